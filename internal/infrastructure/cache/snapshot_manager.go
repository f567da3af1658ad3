package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ChangeChannel is the NOTIFY channel raised by every committed provenance write
const ChangeChannel = "provenance_changed"

// SnapshotManager tracks the provenance revision used as the cache change token.
// It uses PostgreSQL LISTEN/NOTIFY for instant synchronization across instances,
// with a periodic re-read as fallback.
type SnapshotManager struct {
	mu          sync.RWMutex
	revision    int64
	known       bool
	db          *sql.DB
	refreshTTL  time.Duration
	lastRefresh time.Time
	listener    *pq.Listener
	connStr     string
	logger      *zap.Logger
	stopCh      chan struct{}
	stopped     bool
}

// NewSnapshotManager creates a new SnapshotManager.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY.
// refreshTTL is the fallback interval for re-reading the revision.
func NewSnapshotManager(db *sql.DB, connStr string, refreshTTL time.Duration, logger *zap.Logger) *SnapshotManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotManager{
		db:         db,
		connStr:    connStr,
		refreshTTL: refreshTTL,
		logger:     logger.Named("snapshot"),
		stopCh:     make(chan struct{}),
	}
}

// Start fetches the initial revision and starts the listener
func (m *SnapshotManager) Start(ctx context.Context) error {
	if _, err := m.refreshFromDB(ctx); err != nil {
		return fmt.Errorf("failed to fetch initial revision: %w", err)
	}

	if err := m.startListener(); err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	return nil
}

// Stop stops the listener
func (m *SnapshotManager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// ChangeToken returns the current revision as a cache token.
// A stale revision (older than refreshTTL) is re-read from the database.
func (m *SnapshotManager) ChangeToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	rev, known := m.revision, m.known
	needsRefresh := time.Since(m.lastRefresh) > m.refreshTTL
	m.mu.RUnlock()

	// No database in testing mode
	if m.db == nil {
		return strconv.FormatInt(rev, 10), nil
	}

	if needsRefresh || !known {
		return m.refreshFromDB(ctx)
	}
	return strconv.FormatInt(rev, 10), nil
}

// Observe records a revision seen elsewhere, e.g. returned by a write.
// Revisions only move forward.
func (m *SnapshotManager) Observe(revision int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known || revision > m.revision {
		m.revision = revision
		m.known = true
	}
	m.lastRefresh = time.Now()
}

func (m *SnapshotManager) refreshFromDB(ctx context.Context) (string, error) {
	var rev int64
	err := m.db.QueryRowContext(ctx, `SELECT revision FROM provenance_revision WHERE singleton`).Scan(&rev)
	if err == sql.ErrNoRows {
		rev = 0
	} else if err != nil {
		return "", fmt.Errorf("failed to fetch provenance revision: %w", err)
	}

	// The database value is authoritative, even if it moved backwards after a restore
	m.mu.Lock()
	m.revision = rev
	m.known = true
	m.lastRefresh = time.Now()
	m.mu.Unlock()
	return strconv.FormatInt(rev, 10), nil
}

func (m *SnapshotManager) startListener() error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			// TTL fallback keeps tokens fresh while the listener reconnects
			m.logger.Warn("listener problem", zap.Int("event", int(ev)), zap.Error(err))
		}
	}

	m.listener = pq.NewListener(m.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := m.listener.Listen(ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	go m.handleNotifications()
	return nil
}

func (m *SnapshotManager) handleNotifications() {
	for {
		select {
		case <-m.stopCh:
			return
		case n := <-m.listener.Notify:
			if n == nil {
				// Reconnected; notifications may have been missed
				m.mu.Lock()
				m.known = false
				m.mu.Unlock()
				continue
			}
			rev, err := strconv.ParseInt(n.Extra, 10, 64)
			if err != nil {
				m.logger.Warn("ignoring malformed notification", zap.String("payload", n.Extra))
				continue
			}
			m.Observe(rev)
		case <-time.After(90 * time.Second):
			go func() {
				if err := m.listener.Ping(); err != nil {
					m.logger.Warn("listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// SetToken manually sets the current revision.
// This is primarily used for testing.
func (m *SnapshotManager) SetToken(revision int64) {
	m.mu.Lock()
	m.revision = revision
	m.known = true
	m.lastRefresh = time.Now()
	m.mu.Unlock()
}
