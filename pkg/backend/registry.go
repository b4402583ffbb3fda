package backend

import (
	"fmt"
	"log/slog"

	"github.com/optics-suite/optics/pkg/errcode"
)

// Registry is a session's composed backend set: for each capability an
// ordered list of enabled instances, declaration order first. Built once at
// session creation, read-only after.
type Registry struct {
	drivers        []Driver
	sources        []ElementSource
	textDetectors  []TextDetector
	imageDetectors []ImageDetector
	byName         map[string]any
	logger         *slog.Logger
}

// NewRegistry constructs every enabled instance from configs and sorts them
// into capability lists. Capability membership is interface satisfaction,
// narrowed by CapabilityReporter when the instance implements it.
func NewRegistry(configs []InstanceConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byName: make(map[string]any),
		logger: logger,
	}
	for _, cfg := range EnabledOnly(configs) {
		inst, err := build(cfg)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byName[cfg.Name]; dup {
			return nil, fmt.Errorf("backend %q declared twice", cfg.Name)
		}
		r.byName[cfg.Name] = inst
		r.classify(cfg.Name, inst)
	}
	return r, nil
}

// classify appends inst to every capability list it satisfies.
func (r *Registry) classify(name string, inst any) {
	allowed := func(c Capability) bool { return true }
	if rep, ok := inst.(CapabilityReporter); ok {
		declared := make(map[Capability]bool)
		for _, c := range rep.Capabilities() {
			declared[c] = true
		}
		allowed = func(c Capability) bool { return declared[c] }
	}

	var caps []Capability
	if d, ok := inst.(Driver); ok && allowed(CapabilityDrive) {
		r.drivers = append(r.drivers, d)
		caps = append(caps, CapabilityDrive)
	}
	if s, ok := inst.(ElementSource); ok && allowed(CapabilityElementSource) {
		r.sources = append(r.sources, s)
		caps = append(caps, CapabilityElementSource)
	}
	if t, ok := inst.(TextDetector); ok && allowed(CapabilityTextDetect) {
		r.textDetectors = append(r.textDetectors, t)
		caps = append(caps, CapabilityTextDetect)
	}
	if i, ok := inst.(ImageDetector); ok && allowed(CapabilityImageDetect) {
		r.imageDetectors = append(r.imageDetectors, i)
		caps = append(caps, CapabilityImageDetect)
	}
	r.logger.Debug("Backend registered", "backend", name, "capabilities", caps)
}

// PrimaryDriver returns the first enabled Drive instance.
func (r *Registry) PrimaryDriver() (Driver, error) {
	if len(r.drivers) == 0 {
		return nil, errcode.New(errcode.DriverNotInitialized).
			WithDetails("no enabled drive-capable backend configured")
	}
	return r.drivers[0], nil
}

// Drivers returns the ordered drive-capable instances.
func (r *Registry) Drivers() []Driver { return r.drivers }

// Sources returns the ordered element-source instances.
func (r *Registry) Sources() []ElementSource { return r.sources }

// TextDetectors returns the ordered OCR-capable instances.
func (r *Registry) TextDetectors() []TextDetector { return r.textDetectors }

// ImageDetectors returns the ordered image-matching instances.
func (r *Registry) ImageDetectors() []ImageDetector { return r.imageDetectors }

// Instance returns the raw instance registered under name.
func (r *Registry) Instance(name string) (any, bool) {
	inst, ok := r.byName[name]
	return inst, ok
}

// InstanceFallback iterates an ordered instance list, tracking a current
// position. Callers either walk with Advance or pin one instance.
type InstanceFallback[T any] struct {
	instances []T
	idx       int
}

// NewInstanceFallback wraps instances; the first is current.
func NewInstanceFallback[T any](instances []T) *InstanceFallback[T] {
	return &InstanceFallback[T]{instances: instances}
}

// Current returns the instance at the cursor.
func (f *InstanceFallback[T]) Current() (T, bool) {
	var zero T
	if f.idx >= len(f.instances) {
		return zero, false
	}
	return f.instances[f.idx], true
}

// Advance moves to the next instance and returns it.
func (f *InstanceFallback[T]) Advance() (T, bool) {
	f.idx++
	return f.Current()
}

// Reset moves the cursor back to the first instance.
func (f *InstanceFallback[T]) Reset() { f.idx = 0 }

// Pin sets the cursor to index i.
func (f *InstanceFallback[T]) Pin(i int) error {
	if i < 0 || i >= len(f.instances) {
		return fmt.Errorf("pin index %d out of range [0,%d)", i, len(f.instances))
	}
	f.idx = i
	return nil
}

// All returns the wrapped instances in priority order.
func (f *InstanceFallback[T]) All() []T { return f.instances }

// Len returns the number of wrapped instances.
func (f *InstanceFallback[T]) Len() int { return len(f.instances) }
