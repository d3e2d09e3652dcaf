package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry resolves object metadata by name. It is consumed read-only; the
// system that owns object definitions lives outside this module.
type Registry interface {
	ResolveObject(ctx context.Context, name string) (*Object, error)
}

// InvalidationListener receives object-change notifications. The compiled
// plan cache registers itself here so that a metadata change purges every
// plan built against the old field set.
type InvalidationListener interface {
	ObjectInvalidated(name string)
}

// UnknownObjectError is returned when a name does not resolve.
type UnknownObjectError struct {
	Object string
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("unknown object %q", e.Object)
}

// StaticRegistry is an in-process Registry backed by a map. Registering an
// object a second time replaces it and notifies listeners, which models a
// schema change for everything downstream.
type StaticRegistry struct {
	mu        sync.RWMutex
	objects   map[string]*Object
	listeners []InvalidationListener
	logger    *zap.Logger
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry(logger *zap.Logger) *StaticRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticRegistry{
		objects: make(map[string]*Object),
		logger:  logger,
	}
}

// Register adds or replaces an object definition. Replacement counts as a
// schema change and is fanned out to listeners.
func (r *StaticRegistry) Register(obj *Object) error {
	if err := checkObject(obj); err != nil {
		return err
	}
	r.mu.Lock()
	_, replaced := r.objects[obj.Name]
	r.objects[obj.Name] = obj
	listeners := append([]InvalidationListener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Debug("object registered",
		zap.String("object", obj.Name),
		zap.String("version", obj.Version),
		zap.Bool("replaced", replaced))
	if replaced {
		for _, l := range listeners {
			l.ObjectInvalidated(obj.Name)
		}
	}
	return nil
}

// ResolveObject implements Registry.
func (r *StaticRegistry) ResolveObject(_ context.Context, name string) (*Object, error) {
	r.mu.RLock()
	obj, ok := r.objects[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownObjectError{Object: name}
	}
	return obj, nil
}

// Subscribe adds a listener for schema-change notifications.
func (r *StaticRegistry) Subscribe(l InvalidationListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Objects returns the names of all registered objects, sorted.
func (r *StaticRegistry) Objects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.objects))
	for name := range r.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CachedRegistry decorates a slower Registry with a lookup cache. Change
// notifications from the owning system arrive through Invalidate, which
// drops the cached entry and fans the notification out to listeners.
type CachedRegistry struct {
	mu        sync.RWMutex
	source    Registry
	cache     map[string]*Object
	listeners []InvalidationListener
	logger    *zap.Logger
}

// NewCachedRegistry wraps source with a cache.
func NewCachedRegistry(source Registry, logger *zap.Logger) *CachedRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRegistry{
		source: source,
		cache:  make(map[string]*Object),
		logger: logger,
	}
}

// ResolveObject implements Registry, reading through the cache.
func (r *CachedRegistry) ResolveObject(ctx context.Context, name string) (*Object, error) {
	r.mu.RLock()
	obj, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return obj, nil
	}

	obj, err := r.source.ResolveObject(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[name] = obj
	r.mu.Unlock()
	return obj, nil
}

// Invalidate drops the cached entry for name and notifies listeners.
func (r *CachedRegistry) Invalidate(name string) {
	r.mu.Lock()
	delete(r.cache, name)
	listeners := append([]InvalidationListener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Debug("object invalidated", zap.String("object", name))
	for _, l := range listeners {
		l.ObjectInvalidated(name)
	}
}

// Subscribe adds a listener for invalidation notifications.
func (r *CachedRegistry) Subscribe(l InvalidationListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func checkObject(obj *Object) error {
	if obj == nil || obj.Name == "" {
		return fmt.Errorf("object definition requires a name")
	}
	if len(obj.Fields) == 0 {
		return fmt.Errorf("object %q declares no fields", obj.Name)
	}
	if obj.PrimaryKey == "" {
		return fmt.Errorf("object %q declares no primary key", obj.Name)
	}
	pk, ok := obj.Fields[obj.PrimaryKey]
	if !ok {
		return fmt.Errorf("object %q primary key %q is not a declared field", obj.Name, obj.PrimaryKey)
	}
	if pk.IsComputed() {
		return fmt.Errorf("object %q primary key %q cannot be computed", obj.Name, obj.PrimaryKey)
	}
	for name, def := range obj.Fields {
		if def == nil {
			return fmt.Errorf("object %q field %q has no definition", obj.Name, name)
		}
		if !def.IsComputed() {
			continue
		}
		if def.Computed.Expression == "" {
			return fmt.Errorf("object %q computed field %q has an empty expression", obj.Name, name)
		}
		for _, dep := range def.Computed.DependsOn {
			depDef, ok := obj.Fields[dep]
			if !ok {
				return fmt.Errorf("object %q computed field %q depends on undeclared field %q", obj.Name, name, dep)
			}
			if depDef.IsComputed() {
				return fmt.Errorf("object %q computed field %q depends on computed field %q", obj.Name, name, dep)
			}
		}
	}
	return nil
}
