package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

const cypherQuote = "$cypher$"

var (
	columnRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	// agtype annotates composite values, e.g. {"id": 1, ...}::vertex
	agtypeSuffixRe = regexp.MustCompile(`([}\]])::(vertex|edge|path)`)
	scalarSuffixRe = regexp.MustCompile(`::(numeric|float|integer)$`)
)

// AGEGraphExecutor runs Cypher against an Apache AGE graph. The extension must be
// preloaded (shared_preload_libraries or session_preload_libraries).
type AGEGraphExecutor struct {
	db    *sql.DB
	graph string

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// NewAGEGraphExecutor creates a new executor for the named graph
func NewAGEGraphExecutor(db *sql.DB, graph string) *AGEGraphExecutor {
	return &AGEGraphExecutor{db: db, graph: graph, stmts: make(map[string]*sql.Stmt)}
}

var _ repositories.GraphExecutor = (*AGEGraphExecutor)(nil)

// BindsParameters reports true: parameters travel as an agtype map
func (e *AGEGraphExecutor) BindsParameters() bool {
	return true
}

// ExecuteGraphQuery runs the query and returns one JSON object per row
func (e *AGEGraphExecutor) ExecuteGraphQuery(ctx context.Context, q *repositories.GraphQuery) ([]json.RawMessage, error) {
	stmt, err := e.prepare(ctx, q)
	if err != nil {
		return nil, err
	}

	var args []interface{}
	if len(q.Params) > 0 {
		params, err := json.Marshal(q.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode parameters for %s: %w", q.Name, err)
		}
		args = append(args, string(params))
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run graph query %s: %w", q.Name, err)
	}
	defer rows.Close()

	var result []json.RawMessage
	values := make([]sql.NullString, len(q.Columns))
	dest := make([]interface{}, len(q.Columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan graph query %s: %w", q.Name, err)
		}
		obj := make(map[string]json.RawMessage, len(q.Columns))
		for i, col := range q.Columns {
			raw, err := agtypeToJSON(values[i])
			if err != nil {
				return nil, fmt.Errorf("graph query %s column %s: %w", q.Name, col, err)
			}
			obj[col] = raw
		}
		row, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to encode graph query %s row: %w", q.Name, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph query %s: %w", q.Name, err)
	}
	return result, nil
}

// Close releases prepared statements
func (e *AGEGraphExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, stmt := range e.stmts {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.stmts, name)
	}
	return firstErr
}

func (e *AGEGraphExecutor) prepare(ctx context.Context, q *repositories.GraphQuery) (*sql.Stmt, error) {
	key := q.Name
	if len(q.Params) > 0 {
		key += "/params"
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if stmt, ok := e.stmts[key]; ok {
		return stmt, nil
	}

	query, err := cypherSQL(e.graph, q.Pattern, q.Columns, len(q.Params) > 0)
	if err != nil {
		return nil, fmt.Errorf("graph query %s: %w", q.Name, err)
	}
	stmt, err := e.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare graph query %s: %w", q.Name, err)
	}
	e.stmts[key] = stmt
	return stmt, nil
}

// cypherSQL wraps a Cypher pattern in an ag_catalog.cypher call
func cypherSQL(graph, pattern string, columns []string, withParams bool) (string, error) {
	if err := graphsync.ValidateGraphName(graph); err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("graph query needs at least one result column")
	}
	if strings.Contains(pattern, cypherQuote) {
		return "", fmt.Errorf("pattern must not contain %s", cypherQuote)
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		if !columnRe.MatchString(col) {
			return "", fmt.Errorf("invalid result column %q", col)
		}
		defs[i] = fmt.Sprintf("%q ag_catalog.agtype", col)
	}

	params := ""
	if withParams {
		params = ", $1"
	}
	return fmt.Sprintf("SELECT * FROM ag_catalog.cypher('%s', %s%s%s%s) AS (%s)",
		graph, cypherQuote, pattern, cypherQuote, params, strings.Join(defs, ", ")), nil
}

// agtypeToJSON strips agtype annotations so the value parses as JSON
func agtypeToJSON(v sql.NullString) (json.RawMessage, error) {
	if !v.Valid {
		return json.RawMessage("null"), nil
	}
	s := agtypeSuffixRe.ReplaceAllString(v.String, "$1")
	s = scalarSuffixRe.ReplaceAllString(s, "")
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("unsupported agtype value %q", v.String)
	}
	return json.RawMessage(s), nil
}
