package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tabflow/internal/etl"
	"tabflow/internal/unpivot"
)

// ── Flow ───────────────────────────────────────────────────
// A flow file names a package, the processors to run over it, and where the
// result goes. Relative paths resolve against the flow file's directory.

// Flow is the parsed form of a flow file.
type Flow struct {
	Name    string                `yaml:"name" json:"name"`
	Package PackageSource         `yaml:"package" json:"package"`
	Steps   []Step                `yaml:"steps,omitempty" json:"steps,omitempty"`
	Sink    etl.DestinationConfig `yaml:"sink" json:"sink"`
	Trigger Trigger               `yaml:"trigger,omitempty" json:"trigger,omitempty"`

	// Path is the absolute path of the flow file; empty for flows parsed from memory.
	Path    string `yaml:"-" json:"path,omitempty"`
	BaseDir string `yaml:"-" json:"-"`
}

// PackageSource is either an inline package descriptor or a path to one.
type PackageSource struct {
	Descriptor   string                    `yaml:"descriptor,omitempty" json:"descriptor,omitempty"`
	InferSchemas bool                      `yaml:"inferSchemas,omitempty" json:"inferSchemas,omitempty"`
	Name         string                    `yaml:"name,omitempty" json:"name,omitempty"`
	Resources    []*etl.ResourceDescriptor `yaml:"resources,omitempty" json:"resources,omitempty"`
	Extra        map[string]any            `yaml:",inline" json:"-"`
}

// Step holds exactly one processor definition.
type Step struct {
	Unpivot   *unpivot.Config      `yaml:"unpivot,omitempty" json:"unpivot,omitempty"`
	Transform *etl.TransformConfig `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Kind returns "unpivot" or "transform", or "" when the step is empty or ambiguous.
func (s Step) Kind() string {
	switch {
	case s.Unpivot != nil && s.Transform == nil:
		return "unpivot"
	case s.Transform != nil && s.Unpivot == nil:
		return "transform"
	}
	return ""
}

// Trigger makes a flow run on its own under `tabflow watch`.
type Trigger struct {
	Schedule string   `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron expression or @every/@hourly descriptor
	Watch    []string `yaml:"watch,omitempty" json:"watch,omitempty"`       // files whose changes start a run
}

// ID is stable for a given flow file so run history survives restarts.
func (f *Flow) ID() string {
	key := f.Path
	if key == "" {
		key = f.Name
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("tabflow:"+key)).String()
}

// ── Validation ─────────────────────────────────────────────

// Validate reports every problem in the flow at once.
func (f *Flow) Validate() error {
	var errs []error
	if f.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if f.Package.Descriptor == "" && len(f.Package.Resources) == 0 {
		errs = append(errs, fmt.Errorf("package: descriptor or resources is required"))
	}
	if f.Package.Descriptor != "" && len(f.Package.Resources) > 0 {
		errs = append(errs, fmt.Errorf("package: descriptor and inline resources are exclusive"))
	}
	for i, rd := range f.Package.Resources {
		if rd.Name == "" {
			errs = append(errs, fmt.Errorf("package.resources[%d]: name is required", i))
		}
	}
	for i, step := range f.Steps {
		if _, err := buildStep(step); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
	}
	if f.Sink.Type == "" {
		errs = append(errs, fmt.Errorf("sink: type is required"))
	}
	switch f.Sink.Mode {
	case "", etl.SyncReplace, etl.SyncAppend:
	default:
		errs = append(errs, fmt.Errorf("sink: unknown mode %q", f.Sink.Mode))
	}
	if f.Trigger.Schedule != "" {
		if _, err := cron.ParseStandard(f.Trigger.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("trigger.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Processors builds the processor chain in step order.
func (f *Flow) Processors() ([]etl.Processor, error) {
	out := make([]etl.Processor, 0, len(f.Steps))
	for i, step := range f.Steps {
		p, err := buildStep(step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func buildStep(step Step) (etl.Processor, error) {
	switch step.Kind() {
	case "unpivot":
		return unpivot.New(*step.Unpivot)
	case "transform":
		return etl.NewTransformStep(*step.Transform)
	}
	return nil, fmt.Errorf("step must set exactly one of unpivot or transform")
}

// ── Package / Job ──────────────────────────────────────────

// Descriptor returns the package descriptor and the directory its resource
// paths are relative to. A descriptor file is read fresh on every call so
// edits show up on the next run.
func (f *Flow) Descriptor() (*etl.PackageDescriptor, string, error) {
	if f.Package.Descriptor == "" {
		return &etl.PackageDescriptor{
			Name:      f.Package.Name,
			Resources: f.Package.Resources,
			Extra:     f.Package.Extra,
		}, f.BaseDir, nil
	}

	path := f.resolve(f.Package.Descriptor)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read descriptor: %w", err)
	}
	// JSON descriptors parse as YAML.
	var desc etl.PackageDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, "", fmt.Errorf("parse descriptor %s: %w", path, err)
	}
	return &desc, filepath.Dir(path), nil
}

// Job assembles an engine job for one run.
func (f *Flow) Job() (*etl.Job, error) {
	desc, baseDir, err := f.Descriptor()
	if err != nil {
		return nil, err
	}
	steps, err := f.Processors()
	if err != nil {
		return nil, err
	}
	sink := f.Sink
	if sink.Path != "" {
		sink.Path = f.resolve(sink.Path)
	}
	return &etl.Job{
		ID:           f.ID(),
		Name:         f.Name,
		Package:      desc,
		BaseDir:      baseDir,
		InferSchemas: f.Package.InferSchemas,
		Steps:        steps,
		Sink:         sink,
	}, nil
}

// WatchPaths returns the trigger's watch list as absolute paths.
func (f *Flow) WatchPaths() []string {
	out := make([]string, 0, len(f.Trigger.Watch))
	for _, p := range f.Trigger.Watch {
		abs, err := filepath.Abs(f.resolve(p))
		if err != nil {
			continue
		}
		out = append(out, abs)
	}
	return out
}

func (f *Flow) resolve(p string) string {
	if f.BaseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.BaseDir, p)
}
