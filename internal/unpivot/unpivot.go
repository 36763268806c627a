package unpivot

import (
	"context"
	"fmt"

	"tabflow/internal/etl"
)

// Processor is an etl.Processor that unpivots the selected resources.
// It is immutable after New and safe to reuse across runs.
type Processor struct {
	cfg   Config
	specs []*compiledSpec
}

// New compiles every field pattern. An invalid pattern is reported here,
// before any package is touched.
func New(cfg Config) (*Processor, error) {
	if cfg.ExtraValue.Name == "" {
		return nil, fmt.Errorf("extraValue: name is required")
	}
	p := &Processor{cfg: cfg, specs: make([]*compiledSpec, 0, len(cfg.Fields))}
	for i, spec := range cfg.Fields {
		cs, err := compileSpec(i, spec)
		if err != nil {
			return nil, err
		}
		p.specs = append(p.specs, cs)
	}
	return p, nil
}

// Process rewrites the schema of every selected resource that has one, then
// wraps those resources' row streams with Expand. All schemas are rewritten
// before Process returns; no row is read until a stream is ranged over.
// Resources that are not selected, or have no schema, are left alone.
func (p *Processor) Process(_ context.Context, pkg *etl.Package) (*etl.Package, error) {
	plans, err := p.Plans(pkg.Descriptor, true)
	if err != nil {
		return nil, err
	}
	for _, res := range pkg.Resources {
		if plan, ok := plans[res.Descriptor]; ok {
			res.Rows = Expand(res.Rows, plan)
		}
	}
	return pkg, nil
}

// Plans resolves every selected resource of desc. With install set, each new
// field list replaces the resource's schema fields; otherwise desc is only read.
func (p *Processor) Plans(desc *etl.PackageDescriptor, install bool) (map[*etl.ResourceDescriptor]*TablePlan, error) {
	matcher, err := etl.NewResourceMatcher(p.cfg.Resources, desc)
	if err != nil {
		return nil, fmt.Errorf("unpivot: %w", err)
	}
	plans := make(map[*etl.ResourceDescriptor]*TablePlan)
	for _, rd := range desc.Resources {
		if !matcher.Match(rd.Name) || rd.Schema == nil {
			continue
		}
		plan, fields := p.resolve(rd.Name, rd.Schema)
		if install {
			rd.Schema.Fields = fields
		}
		plans[rd] = plan
	}
	return plans, nil
}
