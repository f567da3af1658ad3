package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/asakaida/provgraph/internal/entities"
	"github.com/asakaida/provgraph/internal/handlers"
	"github.com/asakaida/provgraph/internal/infrastructure/logging"
	"github.com/asakaida/provgraph/internal/infrastructure/metrics"
	"github.com/asakaida/provgraph/internal/repositories/memory"
	"github.com/asakaida/provgraph/internal/services"
	"github.com/asakaida/provgraph/internal/services/graphsync"
	"github.com/asakaida/provgraph/internal/services/lineage"
	"github.com/asakaida/provgraph/pkg/cache/memorycache"
	"github.com/asakaida/provgraph/pkg/client"
)

const bufSize = 1024 * 1024

// E2ETestServer represents an E2E test server backed by the memory store
type E2ETestServer struct {
	Server    *grpc.Server
	Client    *client.Client
	Conn      *grpc.ClientConn
	Store     *memory.Store
	Collector *metrics.Collector
	Listener  *bufconn.Listener
}

// SetupE2ETest wires the server the way cmd/server does for STORAGE_DRIVER=memory,
// with the traversal cache enabled
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := memory.NewStore()
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	resultCache, err := memorycache.New(&memorycache.Config{
		MaxSizeBytes:  10 * 1024 * 1024,
		DefaultTTL:    time.Minute,
		EnableMetrics: true,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	collector := metrics.NewCollector()
	collector.SetCache(resultCache)

	lineageService, err := services.NewLineageService(lineage.NewEngine(store),
		services.LineageServiceConfig{DefaultMaxDepth: 10, MaxDepth: 50},
		services.WithCache(resultCache, store),
		services.WithObserver(collector),
		services.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to create lineage service: %v", err)
	}
	provenanceService := services.NewProvenanceService(store, graphsync.NewVerifier(store, store), nil, logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(logger),
		metrics.UnaryServerInterceptor(collector, nil),
	))
	handlers.RegisterLineageServer(server, handlers.NewLineageHandler(lineageService, logger))
	handlers.RegisterProvenanceServer(server, handlers.NewProvenanceHandler(provenanceService, logger))

	go func() {
		_ = server.Serve(listener)
	}()

	bufDialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough://bufconn",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		server.Stop()
		t.Fatalf("failed to create client connection: %v", err)
	}

	return &E2ETestServer{
		Server:    server,
		Client:    client.New(conn),
		Conn:      conn,
		Store:     store,
		Collector: collector,
		Listener:  listener,
	}
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Conn != nil {
		e.Conn.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
	if e.Listener != nil {
		e.Listener.Close()
	}
}

func intPtr(v int) *int { return &v }

func nodeIDs(nodes []*entities.Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
