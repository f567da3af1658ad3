package memgraph

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The supported Cypher subset:
//
//	MATCH pattern [, pattern ...] [WHERE cond [AND cond ...]] RETURN item [, item ...]
//
//	pattern := node (rel node)*
//	node    := "(" [var] [":" Label] [{key: literal, ...}] ")"
//	rel     := "-[" ... "]->" | "<-[" ... "]-" | "-[" ... "]-"
//	cond    := var.prop = literal | var.prop IS [NOT] NULL
//	item    := count(*) | count(var) | var | var.prop, each with an optional AS alias

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokParam
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			start := i
			quote := r
			i++
			var sb strings.Builder
			closed := false
			for i < len(rs) {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					sb.WriteRune(unescape(rs[i+1]))
					i += 2
					continue
				}
				if c == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal at offset %d", start)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case r == '$':
			start := i
			i++
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, fmt.Errorf("empty parameter name at offset %d", start)
			}
			toks = append(toks, token{kind: tokParam, text: string(rs[start+1 : i]), pos: start})
		case unicode.IsDigit(r):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.' || rs[i] == 'e' || rs[i] == 'E') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})
		case r == '`':
			start := i
			i++
			for i < len(rs) && rs[i] != '`' {
				i++
			}
			if i >= len(rs) {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start+1 : i]), pos: start})
			i++
		case isIdentRune(r):
			start := i
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[start:i]), pos: start})
		case strings.ContainsRune("()[]{}:,.-<>*=", r):
			toks = append(toks, token{kind: tokPunct, text: string(r), pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

// AST

type nodePattern struct {
	variable string
	label    string
	props    map[string]interface{}
}

type relDirection int

const (
	dirOut relDirection = iota
	dirIn
	dirBoth
)

type relPattern struct {
	variable string
	relType  string
	props    map[string]interface{}
	dir      relDirection
}

type pathPattern struct {
	nodes []nodePattern
	rels  []relPattern // len(rels) == len(nodes)-1
}

type condition struct {
	variable string
	prop     string
	isNull   *bool // set for IS [NOT] NULL
	value    interface{}
}

type returnItem struct {
	variable string
	prop     string
	count    bool
	star     bool
	alias    string
}

func (it returnItem) column() string {
	switch {
	case it.alias != "":
		return it.alias
	case it.count:
		return "count"
	case it.prop != "":
		return it.prop
	default:
		return it.variable
	}
}

type query struct {
	paths  []pathPattern
	where  []condition
	items  []returnItem
	isAggr bool
}

type parser struct {
	toks []token
	pos  int
}

func parse(src string) (*query, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseQuery()
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return p.errorf(t, "expected %q", s)
	}
	return nil
}

func (p *parser) expectKeyword(kw string) error {
	t := p.next()
	if t.kind != tokIdent || !strings.EqualFold(t.text, kw) {
		return p.errorf(t, "expected %s", kw)
	}
	return nil
}

func (p *parser) errorf(t token, format string, args ...interface{}) error {
	found := t.text
	if t.kind == tokEOF {
		found = "end of query"
	}
	return fmt.Errorf("syntax error at offset %d near %q: %s", t.pos, found, fmt.Sprintf(format, args...))
}

func (p *parser) parseQuery() (*query, error) {
	if err := p.expectKeyword("MATCH"); err != nil {
		return nil, err
	}
	q := &query{}
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		q.paths = append(q.paths, path)
		if !p.isPunct(",") {
			break
		}
		p.next()
	}

	if p.isKeyword("WHERE") {
		p.next()
		for {
			c, err := p.parseCondition()
			if err != nil {
				return nil, err
			}
			q.where = append(q.where, c)
			if !p.isKeyword("AND") {
				break
			}
			p.next()
		}
	}

	if err := p.expectKeyword("RETURN"); err != nil {
		return nil, err
	}
	for {
		it, err := p.parseReturnItem()
		if err != nil {
			return nil, err
		}
		q.items = append(q.items, it)
		if !p.isPunct(",") {
			break
		}
		p.next()
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected trailing input")
	}

	aggr := 0
	seen := make(map[string]bool)
	for _, it := range q.items {
		if it.count {
			aggr++
		}
		col := it.column()
		if seen[col] {
			return nil, fmt.Errorf("duplicate return column %q", col)
		}
		seen[col] = true
	}
	if aggr > 0 && aggr != len(q.items) {
		return nil, fmt.Errorf("mixing aggregate and non-aggregate return items is not supported")
	}
	q.isAggr = aggr > 0
	return q, q.checkVariables()
}

func (q *query) checkVariables() error {
	bound := make(map[string]bool)
	for _, path := range q.paths {
		for _, n := range path.nodes {
			if n.variable != "" {
				bound[n.variable] = true
			}
		}
		for _, r := range path.rels {
			if r.variable != "" {
				bound[r.variable] = true
			}
		}
	}
	for _, c := range q.where {
		if !bound[c.variable] {
			return fmt.Errorf("variable %q is not defined", c.variable)
		}
	}
	for _, it := range q.items {
		if it.star {
			continue
		}
		if !bound[it.variable] {
			return fmt.Errorf("variable %q is not defined", it.variable)
		}
	}
	return nil
}

func (p *parser) parsePath() (pathPattern, error) {
	var path pathPattern
	n, err := p.parseNode()
	if err != nil {
		return path, err
	}
	path.nodes = append(path.nodes, n)
	for p.isPunct("-") || p.isPunct("<") {
		r, err := p.parseRel()
		if err != nil {
			return path, err
		}
		n, err := p.parseNode()
		if err != nil {
			return path, err
		}
		path.rels = append(path.rels, r)
		path.nodes = append(path.nodes, n)
	}
	return path, nil
}

func (p *parser) parseNode() (nodePattern, error) {
	var n nodePattern
	if err := p.expectPunct("("); err != nil {
		return n, err
	}
	if p.peek().kind == tokIdent {
		n.variable = p.next().text
	}
	if p.isPunct(":") {
		p.next()
		t := p.next()
		if t.kind != tokIdent {
			return n, p.errorf(t, "expected label")
		}
		n.label = t.text
	}
	if p.isPunct("{") {
		props, err := p.parseProps()
		if err != nil {
			return n, err
		}
		n.props = props
	}
	return n, p.expectPunct(")")
}

func (p *parser) parseRel() (relPattern, error) {
	var r relPattern
	incoming := false
	if p.isPunct("<") {
		p.next()
		incoming = true
	}
	if err := p.expectPunct("-"); err != nil {
		return r, err
	}
	if p.isPunct("[") {
		p.next()
		if p.peek().kind == tokIdent {
			r.variable = p.next().text
		}
		if p.isPunct(":") {
			p.next()
			t := p.next()
			if t.kind != tokIdent {
				return r, p.errorf(t, "expected relationship type")
			}
			r.relType = t.text
		}
		if p.isPunct("{") {
			props, err := p.parseProps()
			if err != nil {
				return r, err
			}
			r.props = props
		}
		if err := p.expectPunct("]"); err != nil {
			return r, err
		}
	}
	if err := p.expectPunct("-"); err != nil {
		return r, err
	}
	outgoing := false
	if p.isPunct(">") {
		p.next()
		outgoing = true
	}
	switch {
	case incoming && outgoing:
		return r, fmt.Errorf("relationship cannot point both ways")
	case incoming:
		r.dir = dirIn
	case outgoing:
		r.dir = dirOut
	default:
		r.dir = dirBoth
	}
	return r, nil
}

func (p *parser) parseProps() (map[string]interface{}, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	props := make(map[string]interface{})
	if p.isPunct("}") {
		p.next()
		return props, nil
	}
	for {
		key := p.next()
		if key.kind != tokIdent {
			return nil, p.errorf(key, "expected property name")
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		props[key.text] = v
		if p.isPunct(",") {
			p.next()
			continue
		}
		break
	}
	return props, p.expectPunct("}")
}

func (p *parser) parseLiteral() (interface{}, error) {
	neg := false
	if p.isPunct("-") {
		p.next()
		neg = true
	}
	t := p.next()
	switch t.kind {
	case tokString:
		if neg {
			return nil, p.errorf(t, "cannot negate a string")
		}
		return t.text, nil
	case tokNumber:
		if !strings.ContainsAny(t.text, ".eE") {
			n, err := strconv.ParseInt(t.text, 10, 64)
			if err == nil {
				if neg {
					n = -n
				}
				return n, nil
			}
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number")
		}
		if neg {
			f = -f
		}
		return f, nil
	case tokParam:
		return nil, fmt.Errorf("unbound parameter $%s", t.text)
	case tokIdent:
		if !neg {
			switch strings.ToLower(t.text) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			case "null":
				return nil, nil
			}
		}
	}
	return nil, p.errorf(t, "expected literal")
}

func (p *parser) parseCondition() (condition, error) {
	var c condition
	v := p.next()
	if v.kind != tokIdent {
		return c, p.errorf(v, "expected variable")
	}
	c.variable = v.text
	if err := p.expectPunct("."); err != nil {
		return c, err
	}
	prop := p.next()
	if prop.kind != tokIdent {
		return c, p.errorf(prop, "expected property name")
	}
	c.prop = prop.text

	if p.isKeyword("IS") {
		p.next()
		isNull := true
		if p.isKeyword("NOT") {
			p.next()
			isNull = false
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return c, err
		}
		c.isNull = &isNull
		return c, nil
	}
	if err := p.expectPunct("="); err != nil {
		return c, err
	}
	val, err := p.parseLiteral()
	if err != nil {
		return c, err
	}
	c.value = val
	return c, nil
}

func (p *parser) parseReturnItem() (returnItem, error) {
	var it returnItem
	t := p.next()
	if t.kind != tokIdent {
		return it, p.errorf(t, "expected return item")
	}
	if strings.EqualFold(t.text, "count") && p.isPunct("(") {
		p.next()
		it.count = true
		if p.isPunct("*") {
			p.next()
			it.star = true
		} else {
			v := p.next()
			if v.kind != tokIdent {
				return it, p.errorf(v, "expected variable or *")
			}
			it.variable = v.text
		}
		if err := p.expectPunct(")"); err != nil {
			return it, err
		}
	} else {
		it.variable = t.text
		if p.isPunct(".") {
			p.next()
			prop := p.next()
			if prop.kind != tokIdent {
				return it, p.errorf(prop, "expected property name")
			}
			it.prop = prop.text
		}
	}
	if p.isKeyword("AS") {
		p.next()
		alias := p.next()
		if alias.kind != tokIdent {
			return it, p.errorf(alias, "expected alias")
		}
		it.alias = alias.text
	}
	return it, nil
}
