// Package client wires the schema builder, the write and read engines, the
// counter allocator and the write-back pipeline behind one persister.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rzpsarthak13/relmap/internal/core"
	"github.com/rzpsarthak13/relmap/internal/database"
	"github.com/rzpsarthak13/relmap/internal/key"
	"github.com/rzpsarthak13/relmap/internal/read"
	"github.com/rzpsarthak13/relmap/internal/registry"
	"github.com/rzpsarthak13/relmap/internal/schema"
	"github.com/rzpsarthak13/relmap/internal/sequence"
	"github.com/rzpsarthak13/relmap/internal/write"
	"github.com/rzpsarthak13/relmap/internal/writeback"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client is closed")

	// ErrNoDatabase is returned by operations that need a database when
	// none is configured.
	ErrNoDatabase = errors.New("no database configured")
)

// ConfigProvider is an interface to provide configuration as YAML without importing the public package.
type ConfigProvider interface {
	GetYAML() ([]byte, error)
}

// Options replace components that would otherwise be built from the
// configuration.
type Options struct {
	Executor  core.StatementExecutor
	Allocator core.SequenceAllocator
	Queue     core.WriteBackQueue
	Logger    *zap.SugaredLogger
}

// ClientImpl is the default persister implementation.
type ClientImpl struct {
	mu            sync.RWMutex
	configMgr     *registry.ConfigManager
	tableRegistry *registry.TableRegistry
	lifecycle     *registry.LifecycleManager
	translator    *schema.Translator
	exec          core.StatementExecutor
	alloc         core.SequenceAllocator
	queue         core.WriteBackQueue
	drainer       *writeback.Drainer
	writer        *write.Engine
	reader        *read.Engine
	logger        *zap.SugaredLogger
	closers       []func() error
	closed        bool
}

// NewClientImpl creates a new persister from the provided configuration.
// It accepts a config provider to avoid import cycles.
func NewClientImpl(configProvider ConfigProvider, opts Options) (*ClientImpl, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("config provider cannot be nil")
	}

	configMgr := registry.NewConfigManager()
	yamlData, err := configProvider.GetYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to get config YAML: %w", err)
	}
	if err := configMgr.LoadFromYAML(yamlData); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config := configMgr.GetConfig()

	logger := opts.Logger
	if logger == nil {
		if logger, err = NewLogger(config.Logging); err != nil {
			return nil, err
		}
	}

	lifecycle := registry.NewLifecycleManager()
	c := &ClientImpl{
		configMgr:     configMgr,
		lifecycle:     lifecycle,
		tableRegistry: registry.NewTableRegistry(configMgr, lifecycle),
		logger:        logger,
	}
	lifecycle.RegisterHook(registry.LifecycleHookFunc{
		OnRegisterFunc: func(ctx context.Context, s *schema.Schema) error {
			c.logger.Debugw("table registered", "table", s.Table, "columns", len(s.Columns), "relations", len(s.Relations))
			return nil
		},
		OnCreateFunc: func(ctx context.Context, s *schema.Schema) error {
			c.logger.Infow("table created", "table", s.Table)
			return nil
		},
	})

	if err := c.initializeConnections(opts); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize connections: %w", err)
	}
	return c, nil
}

// initializeConnections sets up the executor, allocator and write-back queue.
func (c *ClientImpl) initializeConnections(opts Options) error {
	config := c.configMgr.GetConfig()

	c.exec = opts.Executor
	if c.exec == nil && config.Database.Type != "" {
		db, err := database.Open(database.ConfigFromInternal(config.Database), c.logger)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		c.exec = db
		c.closers = append(c.closers, db.Close)
	}

	dialect, err := schema.LookupDialect(config.DialectName())
	if err != nil {
		return err
	}
	c.translator = schema.NewTranslator(dialect)

	c.alloc = opts.Allocator
	if c.alloc == nil {
		seqConfig := sequence.ConfigFromInternal(config.Sequence)
		seqConfig.Logger = c.logger
		if c.exec != nil {
			seqConfig.Seed = sequence.MaxCounterSeeder(c.exec, c.translator)
		}
		alloc, err := sequence.Create(seqConfig)
		if err != nil {
			return fmt.Errorf("failed to create sequence allocator: %w", err)
		}
		c.alloc = alloc
		c.closers = append(c.closers, alloc.Close)
	}

	c.queue = opts.Queue
	if c.queue == nil {
		queue, err := writeback.NewQueue(config.WriteBack, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create write-back queue: %w", err)
		}
		c.queue = queue
		c.closers = append(c.closers, queue.Close)
	}

	c.writer = write.NewEngine(c.alloc, c.logger)
	if c.exec != nil {
		c.reader = read.NewEngine(c.exec, c.translator, c.logger)
		c.drainer = writeback.NewDrainer(c.queue, c.exec, writeback.DrainerConfig{
			DrainRate:        config.WriteBack.DrainRate,
			BatchSize:        config.WriteBack.BatchSize,
			PollInterval:     config.WriteBack.PollInterval,
			MaxRetries:       config.WriteBack.MaxRetries,
			RetryBackoffBase: config.WriteBack.RetryBackoffBase,
			RetryBackoffMax:  config.WriteBack.RetryBackoffMax,
			TableRate: func(table string) int {
				return c.configMgr.GetTableConfig(table).DrainRate
			},
		}, c.logger)
	}
	return nil
}

// NewLogger builds a zap logger from the logging configuration.
func NewLogger(config registry.InternalLoggingConfig) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	if config.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if config.Level != "" {
		level, err := zapcore.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar().Named("relmap"), nil
}

func (c *ClientImpl) check(needDB bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if needDB && c.exec == nil {
		return ErrNoDatabase
	}
	return nil
}

// Register declares every type as a top-level table and builds their
// schemas. All types are declared before any is built, so types in one
// call may reference each other in any order.
func (c *ClientImpl) Register(ctx context.Context, types ...*schema.RecordType) ([]*schema.Schema, error) {
	if err := c.check(false); err != nil {
		return nil, err
	}
	for _, t := range types {
		if err := c.tableRegistry.Declare(t); err != nil {
			return nil, err
		}
	}
	schemas := make([]*schema.Schema, 0, len(types))
	for _, t := range types {
		s, err := c.tableRegistry.Register(ctx, t)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// Persist registers the types and creates their tables, their referenced
// tables and their relation tables if they do not exist.
func (c *ClientImpl) Persist(ctx context.Context, types ...*schema.RecordType) error {
	if err := c.check(true); err != nil {
		return err
	}
	schemas, err := c.Register(ctx, types...)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if err := c.create(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// create creates the tables of s, dependencies first.
func (c *ClientImpl) create(ctx context.Context, s *schema.Schema) error {
	for _, dep := range s.Dependencies {
		if err := c.create(ctx, dep); err != nil {
			return err
		}
	}
	created, err := c.tableRegistry.IsCreated(s.Table)
	if err != nil {
		return err
	}
	if created {
		return nil
	}

	statements := []string{c.translator.CreateTable(s, true)}
	for _, r := range s.Relations {
		statements = append(statements, c.translator.CreateRelationTable(r, true))
	}
	for _, stmt := range statements {
		if err := c.exec.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	return c.tableRegistry.MarkCreated(ctx, s.Table)
}

// DDL returns the CREATE TABLE statements of the types, dependencies first.
func (c *ClientImpl) DDL(ctx context.Context, types ...*schema.RecordType) ([]string, error) {
	schemas, err := c.Register(ctx, types...)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := make(map[string]bool)
	for _, s := range schemas {
		for _, stmt := range c.translator.CreateTables(s, false) {
			if !seen[stmt] {
				seen[stmt] = true
				out = append(out, stmt)
			}
		}
	}
	return out, nil
}

func (c *ClientImpl) schemaOf(obj *schema.Object) (*schema.Schema, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: object is nil", write.ErrInvalidRecord)
	}
	return c.tableRegistry.Schema(obj.Type())
}

// Statements renders the insert statements of obj without executing them.
// Auto-id counters are allocated.
func (c *ClientImpl) Statements(ctx context.Context, obj *schema.Object) ([]string, error) {
	if err := c.check(false); err != nil {
		return nil, err
	}
	s, err := c.schemaOf(obj)
	if err != nil {
		return nil, err
	}
	return c.writer.Statements(ctx, obj, s, c.translator)
}

// Insert writes obj and every record it references. Tables configured as
// async are queued for the drainer instead.
func (c *ClientImpl) Insert(ctx context.Context, obj *schema.Object) error {
	if err := c.check(true); err != nil {
		return err
	}
	s, err := c.schemaOf(obj)
	if err != nil {
		return err
	}
	statements, err := c.writer.Statements(ctx, obj, s, c.translator)
	if err != nil {
		return err
	}
	if c.configMgr.GetTableConfig(s.Table).Async {
		return c.enqueue(ctx, s.Table, statements)
	}
	for _, stmt := range statements {
		if err := c.exec.Execute(ctx, stmt); err != nil {
			return err
		}
	}
	c.logger.Debugw("inserted", "table", s.Table, "statements", len(statements))
	return nil
}

// InsertAsync renders the statements of obj and queues them for the
// drainer.
func (c *ClientImpl) InsertAsync(ctx context.Context, obj *schema.Object) error {
	if err := c.check(false); err != nil {
		return err
	}
	s, err := c.schemaOf(obj)
	if err != nil {
		return err
	}
	statements, err := c.writer.Statements(ctx, obj, s, c.translator)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, s.Table, statements)
}

func (c *ClientImpl) enqueue(ctx context.Context, table string, statements []string) error {
	batch := writeback.NewBatch(table, statements)
	if err := c.queue.Enqueue(ctx, batch); err != nil {
		return fmt.Errorf("failed to queue insert into %s: %w", table, err)
	}
	c.logger.Debugw("insert queued", "table", table, "id", batch.ID, "statements", len(statements))
	return nil
}

// Read returns the object of type t whose key fields equal keyValues, in
// key column order. Auto-id types take the hash and counter.
func (c *ClientImpl) Read(ctx context.Context, t *schema.RecordType, keyValues ...interface{}) (*schema.Object, error) {
	if err := c.check(true); err != nil {
		return nil, err
	}
	s, err := c.tableRegistry.Schema(t)
	if err != nil {
		return nil, err
	}
	k, err := key.FromValues(s, keyValues...)
	if err != nil {
		return nil, err
	}
	return c.reader.ReadByKey(ctx, s, k)
}

// ReadBy returns the objects of type t whose field at the dotted path
// equals value.
func (c *ClientImpl) ReadBy(ctx context.Context, t *schema.RecordType, path string, value interface{}) ([]*schema.Object, error) {
	if err := c.check(true); err != nil {
		return nil, err
	}
	s, err := c.tableRegistry.Schema(t)
	if err != nil {
		return nil, err
	}
	conds, err := read.Conditions(s, path, value)
	if err != nil {
		return nil, err
	}
	return c.reader.ReadWhere(ctx, s, conds)
}

// Schema returns the schema of a registered type.
func (c *ClientImpl) Schema(t *schema.RecordType) (*schema.Schema, error) {
	return c.tableRegistry.Schema(t)
}

// Tables returns the names of the registered tables.
func (c *ClientImpl) Tables() []string {
	return c.tableRegistry.List()
}

// RegisterHook adds a table lifecycle hook.
func (c *ClientImpl) RegisterHook(hook registry.LifecycleHook) {
	c.lifecycle.RegisterHook(hook)
}

// Start starts the background drainer.
func (c *ClientImpl) Start(ctx context.Context) error {
	if err := c.check(true); err != nil {
		return err
	}
	return c.drainer.Start(ctx)
}

// Stop stops the background drainer.
func (c *ClientImpl) Stop() error {
	if c.drainer == nil {
		return nil
	}
	return c.drainer.Stop()
}

// IsRunning returns whether the drainer is running.
func (c *ClientImpl) IsRunning() bool {
	return c.drainer != nil && c.drainer.IsRunning()
}

// Flush executes every queued insert now. The drainer must be stopped.
func (c *ClientImpl) Flush(ctx context.Context) error {
	if err := c.check(true); err != nil {
		return err
	}
	return c.drainer.Flush(ctx)
}

// QueueSize returns the number of queued insert batches.
func (c *ClientImpl) QueueSize() int {
	return c.queue.Size()
}

// Close stops the drainer and releases connections. The first error is
// returned; every resource is closed regardless.
func (c *ClientImpl) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var first error
	if err := c.Stop(); err != nil {
		first = err
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warnw("error closing resource", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	c.logger.Sync()
	return first
}
