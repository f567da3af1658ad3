package querycontract

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	aliasRe    = regexp.MustCompile(`(?is)^.+\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)$`)
	propRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.([A-Za-z_][A-Za-z0-9_]*)$`)
	varRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	countRe    = regexp.MustCompile(`(?is)^count\s*\(.*\)$`)
	trailingRe = regexp.MustCompile(`(?is)\s+(ORDER\s+BY|SKIP|LIMIT)\s.*$`)
)

// ReturnColumns derives the result column names from the final RETURN clause.
// An item is named by its alias, by the property for var.prop, by the variable
// itself, or "count" for count(...). Any other expression needs an alias.
func ReturnColumns(pattern string) ([]string, error) {
	clause, ok := lastReturnClause(pattern)
	if !ok {
		return nil, fmt.Errorf("pattern has no RETURN clause")
	}
	clause = trailingRe.ReplaceAllString(clause, "")

	var cols []string
	seen := make(map[string]bool)
	for _, item := range splitTopLevel(clause) {
		item = strings.TrimSpace(item)
		if strings.HasPrefix(strings.ToUpper(item), "DISTINCT ") {
			item = strings.TrimSpace(item[len("DISTINCT "):])
		}
		var col string
		switch {
		case aliasRe.MatchString(item):
			col = aliasRe.FindStringSubmatch(item)[1]
		case propRe.MatchString(item):
			col = propRe.FindStringSubmatch(item)[1]
		case varRe.MatchString(item):
			col = item
		case countRe.MatchString(item):
			col = "count"
		default:
			return nil, fmt.Errorf("return item %q needs an alias", item)
		}
		if seen[col] {
			return nil, fmt.Errorf("duplicate return column %q", col)
		}
		seen[col] = true
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("RETURN clause is empty")
	}
	return cols, nil
}

// lastReturnClause returns the text after the last RETURN keyword outside string literals
func lastReturnClause(pattern string) (string, bool) {
	rs := []rune(pattern)
	last := -1
	var quote rune
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			if r == '\\' {
				i++
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}
		if r == '\'' || r == '"' || r == '`' {
			quote = r
			continue
		}
		if i+6 <= len(rs) && strings.EqualFold(string(rs[i:i+6]), "RETURN") &&
			(i == 0 || !isParamRune(rs[i-1])) && (i+6 == len(rs) || !isParamRune(rs[i+6])) {
			last = i
		}
	}
	if last < 0 {
		return "", false
	}
	return string(rs[last+6:]), true
}

// splitTopLevel splits on commas that are not nested in brackets or string literals
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	var quote rune
	start := 0
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			if r == '\\' {
				i++
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, string(rs[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(string(rs[start:])); tail != "" || len(parts) > 0 {
		parts = append(parts, string(rs[start:]))
	}
	return parts
}
