package etl

import (
	"context"
	"maps"
)

// ── Processor ──────────────────────────────────────────────
// A Processor rewrites a package: it may mutate resource descriptors and
// replace row streams. Descriptor changes must be complete when Process
// returns; row work must stay inside the returned streams so nothing is
// read before the caller starts pulling.
//
// Pattern: dataflows processor chain.

// Processor transforms a package.
type Processor interface {
	Process(ctx context.Context, pkg *Package) (*Package, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, pkg *Package) (*Package, error)

func (f ProcessorFunc) Process(ctx context.Context, pkg *Package) (*Package, error) {
	return f(ctx, pkg)
}

// Chain runs processors in order, feeding each the previous output.
func Chain(ctx context.Context, pkg *Package, steps ...Processor) (*Package, error) {
	var err error
	for _, step := range steps {
		pkg, err = step.Process(ctx, pkg)
		if err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

// Clone returns a deep copy of the descriptor so a run can mutate it freely.
func (p *PackageDescriptor) Clone() *PackageDescriptor {
	if p == nil {
		return nil
	}
	out := &PackageDescriptor{Name: p.Name, Extra: maps.Clone(p.Extra)}
	out.Resources = make([]*ResourceDescriptor, len(p.Resources))
	for i, r := range p.Resources {
		out.Resources[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the resource descriptor.
func (r *ResourceDescriptor) Clone() *ResourceDescriptor {
	out := *r
	out.Extra = maps.Clone(r.Extra)
	if r.Source != nil {
		out.Source = &SourceRef{Type: r.Source.Type, Config: maps.Clone(r.Source.Config)}
	}
	if r.Schema != nil {
		out.Schema = &Schema{Fields: make([]Field, len(r.Schema.Fields))}
		for i, f := range r.Schema.Fields {
			out.Schema.Fields[i] = f.Clone()
		}
	}
	return &out
}
