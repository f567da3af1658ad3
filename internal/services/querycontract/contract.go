// Package querycontract pairs named Cypher patterns against the graph mirror with
// typed, schema-validated parameters and a single-row result.
package querycontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/asakaida/provgraph/internal/repositories"
	"github.com/google/jsonschema-go/jsonschema"
)

var nameRe = regexp.MustCompile(`(?i)^[a-z0-9_]+$`)

// Definition is a named graph query with an input type In and a result row type Out
type Definition[In, Out any] struct {
	name        string
	pattern     string
	columns     []string
	input       *jsonschema.Resolved
	result      *jsonschema.Resolved
	constraints []*constraint
}

type options struct {
	inputSchema  *jsonschema.Schema
	resultSchema *jsonschema.Schema
	constraints  []string
}

// Option customizes a Definition
type Option func(*options)

// WithInputSchema replaces the schema inferred from In
func WithInputSchema(s *jsonschema.Schema) Option {
	return func(o *options) { o.inputSchema = s }
}

// WithResultSchema replaces the schema inferred from Out
func WithResultSchema(s *jsonschema.Schema) Option {
	return func(o *options) { o.resultSchema = s }
}

// WithConstraint adds a CEL predicate the parameters must satisfy, e.g. `params.limit <= 100`
func WithConstraint(expr string) Option {
	return func(o *options) { o.constraints = append(o.constraints, expr) }
}

// Define validates and compiles a query definition
func Define[In, Out any](name, pattern string, opts ...Option) (*Definition[In, Out], error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	columns, err := ReturnColumns(pattern)
	if err != nil {
		return nil, fmt.Errorf("graph query %s: %w", name, err)
	}

	inSchema := o.inputSchema
	if inSchema == nil {
		if inSchema, err = jsonschema.For[In](nil); err != nil {
			return nil, fmt.Errorf("graph query %s: failed to infer input schema: %w", name, err)
		}
	}
	outSchema := o.resultSchema
	if outSchema == nil {
		if outSchema, err = jsonschema.For[Out](nil); err != nil {
			return nil, fmt.Errorf("graph query %s: failed to infer result schema: %w", name, err)
		}
	}

	d := &Definition[In, Out]{name: name, pattern: pattern, columns: columns}
	if d.input, err = inSchema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("graph query %s: invalid input schema: %w", name, err)
	}
	if d.result, err = outSchema.Resolve(nil); err != nil {
		return nil, fmt.Errorf("graph query %s: invalid result schema: %w", name, err)
	}
	for _, expr := range o.constraints {
		c, err := compileConstraint(expr)
		if err != nil {
			return nil, fmt.Errorf("graph query %s: %w", name, err)
		}
		d.constraints = append(d.constraints, c)
	}
	return d, nil
}

// MustDefine is like Define but panics on error. Intended for package-level definitions.
func MustDefine[In, Out any](name, pattern string, opts ...Option) *Definition[In, Out] {
	d, err := Define[In, Out](name, pattern, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the query name
func (d *Definition[In, Out]) Name() string { return d.name }

// Pattern returns the unbound Cypher pattern
func (d *Definition[In, Out]) Pattern() string { return d.pattern }

// Columns returns the result column names
func (d *Definition[In, Out]) Columns() []string { return d.columns }

// Execute validates in, runs the query and decodes its single result row
func (d *Definition[In, Out]) Execute(ctx context.Context, exec repositories.GraphExecutor, in In) (Out, error) {
	var out Out

	params, err := d.params(in)
	if err != nil {
		return out, err
	}

	q := &repositories.GraphQuery{
		Name:    d.name,
		Pattern: d.pattern,
		Params:  params,
		Columns: d.columns,
	}
	if !exec.BindsParameters() {
		q.Pattern = Bind(d.pattern, params)
	}

	rows, err := exec.ExecuteGraphQuery(ctx, q)
	if err != nil {
		return out, fmt.Errorf("graph query %s failed: %w", d.name, err)
	}
	if len(rows) != 1 {
		return out, &RowCountError{Query: d.name, Rows: len(rows)}
	}

	var payload interface{}
	if err := json.Unmarshal(rows[0], &payload); err != nil {
		return out, &SchemaError{Query: d.name, Schema: "result", Err: err}
	}
	if err := d.result.Validate(payload); err != nil {
		return out, &SchemaError{Query: d.name, Schema: "result", Err: err}
	}
	if err := json.Unmarshal(rows[0], &out); err != nil {
		return out, &SchemaError{Query: d.name, Schema: "result", Err: err}
	}
	return out, nil
}

// params converts in to a validated parameter bundle
func (d *Definition[In, Out]) params(in In) (map[string]interface{}, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, &SchemaError{Query: d.name, Schema: "input", Err: err}
	}

	var instance interface{}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, &SchemaError{Query: d.name, Schema: "input", Err: err}
	}
	if err := d.input.Validate(instance); err != nil {
		return nil, &SchemaError{Query: d.name, Schema: "input", Err: err}
	}

	params := map[string]interface{}{}
	if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		obj, ok := instance.(map[string]interface{})
		if !ok {
			return nil, &SchemaError{Query: d.name, Schema: "input", Err: fmt.Errorf("parameters must be an object, got %T", instance)}
		}
		params = obj
	}

	for _, c := range d.constraints {
		if err := c.check(params); err != nil {
			return nil, &SchemaError{Query: d.name, Schema: "input", Err: err}
		}
	}
	return params, nil
}
