package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/relmap/internal/schema"
)

// TableMetadata contains metadata about a registered table.
type TableMetadata struct {
	// TableName is the name of the table.
	TableName string

	// Schema is the table layout derived from the record type.
	Schema *schema.Schema

	// Config contains the table-specific configuration.
	Config InternalTableConfig

	// Created indicates whether the table and its relation tables exist in
	// the database.
	Created bool

	// CreatedAt is the timestamp when the table was marked created.
	CreatedAt *time.Time

	// RegisteredAt is the timestamp when the table was registered.
	RegisteredAt time.Time

	// UpdatedAt is the timestamp when the table metadata was last updated.
	UpdatedAt time.Time
}

// TableRegistry manages registered record types and the state of their
// tables. It owns the schema builder so that every schema is derived from
// the same set of top-level types.
type TableRegistry struct {
	mu        sync.RWMutex
	builder   *schema.Builder
	tables    map[string]*TableMetadata
	types     map[*schema.RecordType]string
	configMgr *ConfigManager
	lifecycle *LifecycleManager
}

// NewTableRegistry creates a new table registry with the given configuration manager and lifecycle manager.
func NewTableRegistry(configMgr *ConfigManager, lifecycle *LifecycleManager) *TableRegistry {
	if configMgr == nil {
		configMgr = NewConfigManager()
	}
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		builder:   schema.NewBuilder(),
		tables:    make(map[string]*TableMetadata),
		types:     make(map[*schema.RecordType]string),
		configMgr: configMgr,
		lifecycle: lifecycle,
	}
}

// Declare marks t as a top-level table. Types nesting t built afterwards
// store a reference to its rows.
func (tr *TableRegistry) Declare(t *schema.RecordType) error {
	return tr.builder.Register(t)
}

// Register declares t, builds its schema and records metadata for it and
// every table it depends on. Registering a type twice returns the same
// schema.
func (tr *TableRegistry) Register(ctx context.Context, t *schema.RecordType) (*schema.Schema, error) {
	if err := tr.builder.Register(t); err != nil {
		return nil, err
	}
	s, err := tr.builder.Build(t)
	if err != nil {
		return nil, err
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if err := tr.record(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// record adds metadata for s and its dependencies, dependencies first.
func (tr *TableRegistry) record(ctx context.Context, s *schema.Schema) error {
	if _, exists := tr.tables[s.Table]; exists {
		return nil
	}
	for _, dep := range s.Dependencies {
		if err := tr.record(ctx, dep); err != nil {
			return err
		}
	}
	if err := tr.lifecycle.ExecuteRegisterHooks(ctx, s); err != nil {
		return fmt.Errorf("register hook failed for table %q: %w", s.Table, err)
	}

	now := time.Now()
	tr.tables[s.Table] = &TableMetadata{
		TableName:    s.Table,
		Schema:       s,
		Config:       tr.configMgr.GetTableConfig(s.Table),
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	tr.types[s.Type] = s.Table
	return nil
}

// Schema returns the schema of a registered record type.
func (tr *TableRegistry) Schema(t *schema.RecordType) (*schema.Schema, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	name, exists := tr.types[t]
	if !exists {
		return nil, fmt.Errorf("record type %q is not registered", typeName(t))
	}
	return tr.tables[name].Schema, nil
}

// Get retrieves the schema of a table by name.
func (tr *TableRegistry) Get(tableName string) (*schema.Schema, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return nil, fmt.Errorf("table %q is not registered", tableName)
	}
	return metadata.Schema, nil
}

// GetMetadata retrieves a copy of the metadata for a table by name.
func (tr *TableRegistry) GetMetadata(tableName string) (*TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return nil, fmt.Errorf("table %q is not registered", tableName)
	}
	cp := *metadata
	return &cp, nil
}

// MarkCreated records that the table and its relation tables exist in the
// database. Create hooks run first; if one fails the table stays
// uncreated.
func (tr *TableRegistry) MarkCreated(ctx context.Context, tableName string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return fmt.Errorf("table %q is not registered", tableName)
	}
	if metadata.Created {
		return nil
	}

	if err := tr.lifecycle.ExecuteCreateHooks(ctx, metadata.Schema); err != nil {
		return fmt.Errorf("create hook failed for table %q: %w", tableName, err)
	}

	now := time.Now()
	metadata.Created = true
	metadata.CreatedAt = &now
	metadata.UpdatedAt = now
	return nil
}

// IsCreated checks if a table has been created in the database.
func (tr *TableRegistry) IsCreated(tableName string) (bool, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return false, fmt.Errorf("table %q is not registered", tableName)
	}
	return metadata.Created, nil
}

// List returns the names of all registered tables, sorted.
func (tr *TableRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tables))
	for name := range tr.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListPending returns the names of registered tables not yet created, sorted.
func (tr *TableRegistry) ListPending() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0)
	for name, metadata := range tr.tables {
		if !metadata.Created {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RefreshConfig refreshes the configuration for all registered tables.
// This is useful when the global configuration changes.
func (tr *TableRegistry) RefreshConfig() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	for _, metadata := range tr.tables {
		metadata.Config = tr.configMgr.GetTableConfig(metadata.TableName)
		metadata.UpdatedAt = now
	}
}

// GetLifecycleManager returns the lifecycle manager associated with this registry.
func (tr *TableRegistry) GetLifecycleManager() *LifecycleManager {
	return tr.lifecycle
}

// Count returns the total number of registered tables.
func (tr *TableRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tables)
}

func typeName(t *schema.RecordType) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
