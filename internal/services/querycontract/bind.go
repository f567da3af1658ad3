package querycontract

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Bind substitutes $name placeholders in a Cypher pattern with literal values.
// Placeholders without a matching parameter are left untouched, and text inside
// string literals is never rewritten.
func Bind(pattern string, params map[string]interface{}) string {
	var sb strings.Builder
	rs := []rune(pattern)
	var quote rune
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if quote != 0 {
			sb.WriteRune(r)
			if r == '\\' && i+1 < len(rs) {
				i++
				sb.WriteRune(rs[i])
				continue
			}
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"' || r == '`':
			quote = r
			sb.WriteRune(r)
		case r == '$':
			j := i + 1
			for j < len(rs) && isParamRune(rs[j]) {
				j++
			}
			name := string(rs[i+1 : j])
			v, ok := params[name]
			if name == "" || !ok {
				sb.WriteRune(r)
				continue
			}
			sb.WriteString(Literal(v))
			i = j - 1
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isParamRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Literal renders a decoded JSON value as a Cypher literal
func Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return quoteString(val)
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = Literal(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			name := k
			if !identRe.MatchString(k) {
				name = "`" + strings.ReplaceAll(k, "`", "``") + "`"
			}
			parts[i] = name + ": " + Literal(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return quoteString(fmt.Sprint(val))
	}
}

func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\'':
			sb.WriteString(`\'`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
