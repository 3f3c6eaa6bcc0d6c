// Package doctool defines the tool surface the assistant exposes to the
// model: schema discovery, schema mutation, record mutation, read-only SQL
// query and static reference help. Each tool carries a strict JSON schema;
// arguments are validated before any document action is built.
package doctool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridassist/internal/domain"
)

// handlerFunc executes one validated tool invocation. The returned value is
// serialized back to the model; applied lists the document actions the call
// performed. Validation failures come back as errors and are converted to
// failed tool results by the dispatcher.
type handlerFunc func(ctx context.Context, doc domain.DocumentStore, args map[string]any) (result any, applied []domain.AppliedAction, err error)

type toolEntry struct {
	spec    domain.ToolSpec
	schema  *jsonschema.Schema
	handler handlerFunc
}

// Catalog is the fixed set of assistant tools. Construct with NewCatalog;
// the schemas are compiled once and a compile failure fails construction.
type Catalog struct {
	entries map[string]*toolEntry
	order   []string
}

// NewCatalog builds the full tool catalog and compiles every parameter schema.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*toolEntry)}
	defs := make([]toolDef, 0, 24)
	defs = append(defs, discoveryTools()...)
	defs = append(defs, schemaTools()...)
	defs = append(defs, recordTools()...)
	defs = append(defs, queryTools()...)
	for _, def := range defs {
		if err := c.register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// toolDef is the declaration form used by the per-family files.
type toolDef struct {
	name        string
	description string
	params      string // JSON schema source
	mutating    bool
	handler     handlerFunc
}

func (c *Catalog) register(def toolDef) error {
	if _, dup := c.entries[def.name]; dup {
		return fmt.Errorf("duplicate tool %q", def.name)
	}
	raw := json.RawMessage(def.params)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource for %q: %w", def.name, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", def.name, err)
	}

	c.entries[def.name] = &toolEntry{
		spec: domain.ToolSpec{
			Name:        def.name,
			Description: def.description,
			Parameters:  raw,
			Mutating:    def.mutating,
		},
		schema:  compiled,
		handler: def.handler,
	}
	c.order = append(c.order, def.name)
	return nil
}

// Specs returns the tool specs in registration order.
func (c *Catalog) Specs() []domain.ToolSpec {
	specs := make([]domain.ToolSpec, 0, len(c.order))
	for _, name := range c.order {
		specs = append(specs, c.entries[name].spec)
	}
	return specs
}

func (c *Catalog) lookup(name string) (*toolEntry, bool) {
	e, ok := c.entries[name]
	return e, ok
}
