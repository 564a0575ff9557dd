package cache

import (
	"context"
	"errors"
)

// Layered keeps a Memory store in front of an optional durable backend.
// Persist writes go through to the backend; reads fall back to it and re-warm
// memory. With no backend it degrades to memory-only.
type Layered struct {
	memory  *Memory
	durable Store
}

// NewLayered builds a layered store. durable may be nil.
func NewLayered(durable Store) *Layered {
	return &Layered{memory: NewMemory(), durable: durable}
}

func (l *Layered) Get(ctx context.Context, namespace, key string, dest interface{}) error {
	err := l.memory.Get(ctx, namespace, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMiss) || l.durable == nil {
		return err
	}

	if err := l.durable.Get(ctx, namespace, key, dest); err != nil {
		return err
	}
	// Re-warm memory so the next read in this session skips the backend.
	// Best effort; the durable copy remains authoritative.
	_ = l.memory.Set(ctx, namespace, key, dest, Options{})
	return nil
}

func (l *Layered) Set(ctx context.Context, namespace, key string, value interface{}, opts Options) error {
	if err := l.memory.Set(ctx, namespace, key, value, opts); err != nil {
		return err
	}
	if opts.Persist && l.durable != nil {
		return l.durable.Set(ctx, namespace, key, value, opts)
	}
	return nil
}

func (l *Layered) Delete(ctx context.Context, namespace, key string) error {
	if err := l.memory.Delete(ctx, namespace, key); err != nil {
		return err
	}
	if l.durable != nil {
		return l.durable.Delete(ctx, namespace, key)
	}
	return nil
}
