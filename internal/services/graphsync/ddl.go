package graphsync

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultGraphName is the AGE graph holding the mirror
const DefaultGraphName = "prov_graph"

var graphNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateGraphName checks that name is usable as an AGE graph name
func ValidateGraphName(name string) error {
	if !graphNameRe.MatchString(name) {
		return fmt.Errorf("invalid graph name %q: must match %s", name, graphNameRe.String())
	}
	return nil
}

const helperDDL = `CREATE OR REPLACE FUNCTION prov_mirror_literal(val text) RETURNS text
LANGUAGE plpgsql IMMUTABLE AS $fn$
BEGIN
    IF val IS NULL OR val = '' THEN
        RAISE EXCEPTION 'graph mirror: empty identifier' USING ERRCODE = 'data_exception';
    END IF;
    IF val ~ '[[:cntrl:]]' OR position('$prov$' in val) > 0 THEN
        RAISE EXCEPTION 'graph mirror: malformed identifier %', quote_literal(val) USING ERRCODE = 'data_exception';
    END IF;
    RETURN '''' || replace(replace(val, '\', '\\'), '''', '\''') || '''';
END;
$fn$;

CREATE OR REPLACE FUNCTION prov_mirror_exec(graph_name text, stmt text, expected integer) RETURNS void
LANGUAGE plpgsql
SET search_path = ag_catalog, "$user", public
AS $fn$
DECLARE
    affected bigint;
BEGIN
    EXECUTE format('SELECT count(*) FROM ag_catalog.cypher(%L, $prov$%s$prov$) AS (v ag_catalog.agtype)', graph_name, stmt)
        INTO affected;
    IF expected IS NOT NULL AND affected <> expected THEN
        RAISE EXCEPTION 'graph mirror: % affected % rows, expected %', stmt, affected, expected
            USING ERRCODE = 'integrity_constraint_violation';
    END IF;
END;
$fn$;
`

// GenerateDDL renders the helper functions and the insert/delete triggers for every source.
// Applying it is idempotent.
func GenerateDDL(graphName string) (string, error) {
	if err := ValidateGraphName(graphName); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("-- graph mirror triggers for graph ")
	sb.WriteString(graphName)
	sb.WriteString("\n\n")
	sb.WriteString(helperDDL)

	for _, src := range Sources {
		sb.WriteString("\n")
		writeTrigger(&sb, graphName, src, "insert", "NEW", insertStatement(src), insertExpected(src))
		sb.WriteString("\n")
		writeTrigger(&sb, graphName, src, "delete", "OLD", deleteStatement(src), "NULL")
	}
	return sb.String(), nil
}

// GenerateTeardownDDL renders statements removing every trigger and helper function
func GenerateTeardownDDL() string {
	var sb strings.Builder
	for i := len(Sources) - 1; i >= 0; i-- {
		src := Sources[i]
		for _, op := range []string{"delete", "insert"} {
			name := triggerName(src, op)
			fmt.Fprintf(&sb, "DROP TRIGGER IF EXISTS %s ON %s;\n", name, src.Table)
			fmt.Fprintf(&sb, "DROP FUNCTION IF EXISTS %s();\n", name)
		}
	}
	sb.WriteString("DROP FUNCTION IF EXISTS prov_mirror_exec(text, text, integer);\n")
	sb.WriteString("DROP FUNCTION IF EXISTS prov_mirror_literal(text);\n")
	return sb.String()
}

// GenerateBackfillSQL renders statements that clear the graph and project every existing row
func GenerateBackfillSQL(graphName string) (string, error) {
	if err := ValidateGraphName(graphName); err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT prov_mirror_exec('%s', 'MATCH (n) DETACH DELETE n', NULL);\n", graphName)
	for _, src := range Sources {
		fmt.Fprintf(&sb, "SELECT prov_mirror_exec('%s', %s, %s) FROM %s AS r;\n",
			graphName, rowExpr(insertStatement(src), "r"), insertExpected(src), src.Table)
	}
	return sb.String(), nil
}

func triggerName(src Source, op string) string {
	return fmt.Sprintf("prov_mirror_%s_%s", src.Table, op)
}

func writeTrigger(sb *strings.Builder, graphName string, src Source, op, rowVar, stmt, expected string) {
	name := triggerName(src, op)
	fmt.Fprintf(sb, "CREATE OR REPLACE FUNCTION %s() RETURNS trigger\nLANGUAGE plpgsql AS $fn$\nBEGIN\n", name)
	fmt.Fprintf(sb, "    PERFORM prov_mirror_exec('%s', %s, %s);\n", graphName, rowExpr(stmt, rowVar), expected)
	sb.WriteString("    RETURN NULL;\nEND;\n$fn$;\n")
	fmt.Fprintf(sb, "DROP TRIGGER IF EXISTS %s ON %s;\n", name, src.Table)
	fmt.Fprintf(sb, "CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s();\n",
		name, strings.ToUpper(op), src.Table, name)
}

// Statement templates use {{col}} for a quoted identifier column and {{role:col}}
// for an optional role property map.

func insertStatement(src Source) string {
	if src.Kind == NodeSource {
		return fmt.Sprintf("MERGE (n:%s {id: {{%s}}}) RETURN n", src.Label, src.IDColumn)
	}
	role := ""
	if src.RoleColumn != "" {
		role = "{{role:" + src.RoleColumn + "}}"
	}
	return fmt.Sprintf("MATCH (a:%s {id: {{%s}}}), (b:%s {id: {{%s}}}) CREATE (a)-[r:%s%s]->(b) RETURN r",
		src.From.Label, src.From.Column, src.To.Label, src.To.Column, src.Label, role)
}

// insertExpected is the exact row count an insert must produce; NULL means unchecked
func insertExpected(src Source) string {
	if src.Kind == EdgeSource {
		return "1"
	}
	return "NULL"
}

func deleteStatement(src Source) string {
	if src.Kind == NodeSource {
		return fmt.Sprintf("MATCH (n:%s {id: {{%s}}}) DETACH DELETE n", src.Label, src.IDColumn)
	}
	where := ""
	if src.RoleColumn != "" {
		where = "{{where-role:" + src.RoleColumn + "}}"
	}
	return fmt.Sprintf("MATCH (a:%s {id: {{%s}}})-[r:%s]->(b:%s {id: {{%s}}})%s WITH r LIMIT 1 DELETE r",
		src.From.Label, src.From.Column, src.Label, src.To.Label, src.To.Column, where)
}

var placeholderRe = regexp.MustCompile(`\{\{([a-z-]+:)?([a-z_]+)\}\}`)

// rowExpr turns a statement template into a SQL string expression over rowVar
func rowExpr(stmt, rowVar string) string {
	var parts []string
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(stmt, -1) {
		if m[0] > last {
			parts = append(parts, sqlQuote(stmt[last:m[0]]))
		}
		kind := ""
		if m[2] >= 0 {
			kind = strings.TrimSuffix(stmt[m[2]:m[3]], ":")
		}
		col := rowVar + "." + stmt[m[4]:m[5]]
		switch kind {
		case "role":
			parts = append(parts, fmt.Sprintf(
				"CASE WHEN NULLIF(%s, '') IS NULL THEN '' ELSE ' {role: ' || prov_mirror_literal(%s) || '}' END", col, col))
		case "where-role":
			parts = append(parts, fmt.Sprintf(
				"CASE WHEN NULLIF(%s, '') IS NULL THEN ' WHERE r.role IS NULL' ELSE ' WHERE r.role = ' || prov_mirror_literal(%s) END", col, col))
		default:
			parts = append(parts, fmt.Sprintf("prov_mirror_literal(%s)", col))
		}
		last = m[1]
	}
	if last < len(stmt) {
		parts = append(parts, sqlQuote(stmt[last:]))
	}
	return strings.Join(parts, " || ")
}

func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
