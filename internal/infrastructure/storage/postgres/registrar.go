package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"

	"analytica/internal/core/apperror"
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/query"
	"analytica/pkg/logger"
)

// Execer is the subset of pgxpool.Pool the registrar needs for DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// entry is one registered entity with its schema mutex. The write side of the
// lock serialises materialisation; dispatch holds the read side so concurrent
// reads block during materialisation instead of failing.
type entry struct {
	desc *descriptor.Descriptor
	tmpl query.Template

	lock         sync.RWMutex
	materialised bool
}

// Registrar owns the lifecycle of backing views: it records which query
// template backs each entity and drops-and-recreates the corresponding SQL
// view on demand.
//
// The registry is write-once at module load, then read-only for the process
// lifetime; mu only guards the load phase.
type Registrar struct {
	db Execer

	mu       sync.Mutex
	order    []string
	entries  map[string]*entry
	reserved map[string]bool
}

// NewRegistrar creates a registrar. reservedTables lists the transactional
// table names entity names must not collide with.
func NewRegistrar(db Execer, reservedTables []string) *Registrar {
	reserved := make(map[string]bool, len(reservedTables))
	for _, t := range reservedTables {
		reserved[t] = true
	}
	return &Registrar{
		db:       db,
		entries:  make(map[string]*entry),
		reserved: reserved,
	}
}

// Register records that desc is backed by tmpl. Registering the identical
// template again is a no-op; a different template for the same name fails.
// No side effects until Materialise.
func (r *Registrar) Register(desc *descriptor.Descriptor, tmpl query.Template) error {
	if err := tmpl.Validate(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := desc.Name()
	if r.reserved[name] {
		return apperror.NewDuplicateEntity(name).
			WithDetail("reason", "name collides with a transactional table")
	}
	if existing, ok := r.entries[name]; ok {
		if existing.tmpl.Equal(tmpl) {
			return nil
		}
		return apperror.NewDuplicateEntity(name)
	}

	r.entries[name] = &entry{desc: desc, tmpl: tmpl}
	r.order = append(r.order, name)
	return nil
}

// Descriptor returns the registered descriptor for an entity.
func (r *Registrar) Descriptor(name string) (*descriptor.Descriptor, error) {
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}
	return e.desc, nil
}

// Template returns the registered query template for an entity.
func (r *Registrar) Template(name string) (query.Template, error) {
	e, err := r.entry(name)
	if err != nil {
		return query.Template{}, err
	}
	return e.tmpl, nil
}

// Descriptors returns every registered descriptor in insertion order.
func (r *Registrar) Descriptors() []*descriptor.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*descriptor.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].desc)
	}
	return out
}

func (r *Registrar) entry(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, apperror.NewNotFound("entity", name)
	}
	return e, nil
}

// Materialise drops any existing backing view named like the entity, then
// re-creates it from the registered template. Idempotent over a stable
// template. Serialised per entity; reads block until completion.
//
// Drop-and-recreate is safe because the view is derived: a crash between the
// two steps leaves a missing view that the next dispatch detects and repairs.
func (r *Registrar) Materialise(ctx context.Context, name string) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "materialise")
	span.SetAttributes(attribute.String("entity", name))
	defer span.End()

	e.lock.Lock()
	defer e.lock.Unlock()

	if _, err := r.db.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", name)); err != nil {
		return apperror.NewSchemaError(name, err)
	}

	ddl := fmt.Sprintf("CREATE VIEW %s AS (\n%s\n)", name, e.tmpl.Text())
	if _, err := r.db.Exec(ctx, ddl); err != nil {
		// Surface the engine message verbatim for diagnostics.
		return apperror.NewSchemaError(name, err)
	}

	e.materialised = true
	logger.Info(ctx, "backing view materialised", "entity", name)
	return nil
}

// MaterialiseAll materialises every registered entity in insertion order.
func (r *Registrar) MaterialiseAll(ctx context.Context) error {
	r.mu.Lock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	r.mu.Unlock()

	for _, name := range order {
		if err := r.Materialise(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Drop removes the backing view of an entity. Used on module removal.
func (r *Registrar) Drop(ctx context.Context, name string) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if _, err := r.db.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", name)); err != nil {
		return apperror.NewSchemaError(name, err)
	}
	e.materialised = false
	return nil
}

// withReadLock runs fn holding the entity's schema mutex on the read side.
// Dispatch against an entity being materialised blocks here until the schema
// operation completes; it does not fail.
func (r *Registrar) withReadLock(name string, fn func() error) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	return fn()
}
