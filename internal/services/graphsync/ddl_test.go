package graphsync

import (
	"strings"
	"testing"
)

func TestValidateGraphName(t *testing.T) {
	tests := []struct {
		name    string
		graph   string
		wantErr bool
	}{
		{"default", DefaultGraphName, false},
		{"underscore prefix", "_g1", false},
		{"empty", "", true},
		{"uppercase", "ProvGraph", true},
		{"quote injection", "g'; DROP TABLE entities; --", true},
		{"leading digit", "1graph", true},
		{"too long", strings.Repeat("g", 64), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGraphName(tt.graph)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGraphName(%q) error = %v, wantErr %v", tt.graph, err, tt.wantErr)
			}
		})
	}
}

func TestGenerateDDL(t *testing.T) {
	ddl, err := GenerateDDL("prov_graph")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, src := range Sources {
		for _, op := range []string{"insert", "delete"} {
			name := triggerName(src, op)
			want := "CREATE TRIGGER " + name + " AFTER " + strings.ToUpper(op) + " ON " + src.Table + " FOR EACH ROW"
			if !strings.Contains(ddl, want) {
				t.Errorf("missing trigger %q", want)
			}
		}
	}

	mustContain := []string{
		"CREATE OR REPLACE FUNCTION prov_mirror_literal(val text)",
		"CREATE OR REPLACE FUNCTION prov_mirror_exec(graph_name text, stmt text, expected integer)",
		"'MERGE (n:Entity {id: ' || prov_mirror_literal(NEW.id) || '}) RETURN n'",
		"'MATCH (n:Agent {id: ' || prov_mirror_literal(OLD.id) || '}) DETACH DELETE n'",
		"CREATE (a)-[r:wasGeneratedBy]->(b) RETURN r', 1)",
		"' {role: ' || prov_mirror_literal(NEW.role) || '}'",
		"' WHERE r.role IS NULL'",
	}
	for _, s := range mustContain {
		if !strings.Contains(ddl, s) {
			t.Errorf("DDL missing %q", s)
		}
	}

	// edge inserts without a role column carry no role placeholder
	if strings.Contains(ddl, "wasInformedBy{") {
		t.Error("wasInformedBy must not carry a role property")
	}
}

func TestGenerateDDL_InvalidGraph(t *testing.T) {
	if _, err := GenerateDDL("bad-name"); err == nil {
		t.Fatal("expected error for invalid graph name")
	}
	if _, err := GenerateBackfillSQL("bad-name"); err == nil {
		t.Fatal("expected error for invalid graph name")
	}
}

func TestGenerateTeardownDDL(t *testing.T) {
	ddl := GenerateTeardownDDL()
	for _, src := range Sources {
		for _, op := range []string{"insert", "delete"} {
			want := "DROP TRIGGER IF EXISTS " + triggerName(src, op) + " ON " + src.Table + ";"
			if !strings.Contains(ddl, want) {
				t.Errorf("missing %q", want)
			}
		}
	}
	// edge triggers are dropped before the node triggers they depend on
	if strings.Index(ddl, "prov_mirror_was_informed_by_delete") > strings.Index(ddl, "prov_mirror_entities_delete") {
		t.Error("expected edge triggers to be dropped first")
	}
	if !strings.HasSuffix(ddl, "DROP FUNCTION IF EXISTS prov_mirror_literal(text);\n") {
		t.Error("expected helper functions to be dropped last")
	}
}

func TestGenerateBackfillSQL(t *testing.T) {
	sql, err := GenerateBackfillSQL("prov_graph")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sql), "\n")
	if len(lines) != len(Sources)+1 {
		t.Fatalf("expected %d statements, got %d", len(Sources)+1, len(lines))
	}
	if !strings.Contains(lines[0], "DETACH DELETE n") {
		t.Errorf("first statement must clear the graph, got %q", lines[0])
	}
	for i, src := range Sources {
		if !strings.HasSuffix(lines[i+1], "FROM "+src.Table+" AS r;") {
			t.Errorf("statement %d does not project %s: %q", i+1, src.Table, lines[i+1])
		}
	}
}

func TestRowExpr(t *testing.T) {
	got := rowExpr("MATCH (n:Entity {id: {{id}}}) RETURN n", "NEW")
	want := "'MATCH (n:Entity {id: ' || prov_mirror_literal(NEW.id) || '}) RETURN n'"
	if got != want {
		t.Errorf("rowExpr() = %s, want %s", got, want)
	}
}
