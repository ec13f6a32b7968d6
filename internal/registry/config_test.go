package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubValidator stands in for the sequence backends, which register their
// validators from their own package.
type stubValidator struct{ typ string }

func (v stubValidator) Type() string                         { return v.typ }
func (v stubValidator) Validate(config *InternalConfig) error { return nil }

func init() {
	RegisterValidator(stubValidator{typ: "memory"})
	RegisterValidator(stubValidator{typ: "redis"})
}

func TestDefaultConfigIsValid(t *testing.T) {
	cm := NewConfigManager()
	if err := cm.validateConfig(cm.GetConfig()); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if got := cm.GetConfig().DialectName(); got != "sqlite" {
		t.Fatalf("expected sqlite by default, got %s", got)
	}
}

func TestLoadFromYAML(t *testing.T) {
	cm := NewConfigManager()
	data := []byte(`
dialect: postgres
sequence:
  type: memory
tables:
  Event:
    drain_rate: 5
    async: true
writeback:
  batch_size: 10
  drain_rate: 20
  max_retries: 2
  retry_backoff_base: 10ms
  retry_backoff_max: 1s
  poll_interval: 5ms
  queue_type: memory
logging:
  level: debug
`)
	if err := cm.LoadFromYAML(data); err != nil {
		t.Fatalf("LoadFromYAML failed: %v", err)
	}

	c := cm.GetConfig()
	if c.DialectName() != "postgres" {
		t.Fatalf("expected postgres, got %s", c.DialectName())
	}
	if c.WriteBack.BatchSize != 10 || c.WriteBack.RetryBackoffBase != 10*time.Millisecond {
		t.Fatalf("unexpected writeback config %+v", c.WriteBack)
	}
	if c.WriteBack.QueueBufferSize != 10000 {
		t.Fatalf("unset fields must keep their defaults, got buffer %d", c.WriteBack.QueueBufferSize)
	}

	event := cm.GetTableConfig("Event")
	if event.DrainRate != 5 || event.WriteBackBatchSize != 10 || !event.Async {
		t.Fatalf("unexpected table config %+v", event)
	}
	other := cm.GetTableConfig("Other")
	if other.DrainRate != 20 || other.Async {
		t.Fatalf("unknown tables must use the writeback defaults, got %+v", other)
	}
}

func TestLoadFromJSON(t *testing.T) {
	cm := NewConfigManager()
	if err := cm.LoadFromJSON([]byte(`{"dialect":"mysql","logging":{"level":"warn"}}`)); err != nil {
		t.Fatalf("LoadFromJSON failed: %v", err)
	}
	if cm.GetConfig().DialectName() != "mysql" || cm.GetConfig().Logging.Level != "warn" {
		t.Fatalf("unexpected config %+v", cm.GetConfig())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relmap.yml")
	if err := os.WriteFile(path, []byte("dialect: mysql\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cm := NewConfigManager()
	if err := cm.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cm.GetConfig().Dialect != "mysql" {
		t.Fatalf("expected mysql, got %s", cm.GetConfig().Dialect)
	}

	txt := filepath.Join(dir, "relmap.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := cm.LoadFromFile(txt); err == nil {
		t.Fatalf("expected an error for an unsupported extension")
	}
	if err := cm.LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestInvalidConfigKeepsPrevious(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{"unknown dialect", "dialect: oracle", "dialect"},
		{"unknown sequence", "sequence:\n  type: etcd", "unsupported sequence type"},
		{"empty sequence", "sequence:\n  type: ''", "sequence.type is required"},
		{"bad database type", "database:\n  type: oracle", "database.type"},
		{"database without host", "database:\n  type: mysql", "database.host is required"},
		{"bad port", "database:\n  type: postgres\n  host: db\n  port: 70000", "database.port"},
		{"zero batch size", "writeback:\n  batch_size: 0", "batch_size"},
		{"negative retries", "writeback:\n  max_retries: -1", "max_retries"},
		{"backoff order", "writeback:\n  retry_backoff_base: 1m\n  retry_backoff_max: 1s", "retry_backoff_max"},
		{"unknown queue", "writeback:\n  queue_type: sqs", "queue_type"},
		{"redis without endpoints", "writeback:\n  queue_type: redis\n  redis_config:\n    endpoints: []", "endpoints"},
		{"kafka without topic", "writeback:\n  queue_type: kafka\n  kafka_config:\n    topic: ''", "topic"},
		{"negative table rate", "tables:\n  T:\n    drain_rate: -1", "tables.T"},
		{"bad log level", "logging:\n  level: verbose", "logging.level"},
		{"memory counters with redis queue", "writeback:\n  queue_type: redis\n  redis_config:\n    endpoints: [localhost:6379]", "sequence.type 'memory'"},
		{"memory counters with kafka queue", "writeback:\n  queue_type: kafka\n  kafka_config:\n    brokers: [localhost:9092]\n    topic: inserts", "sequence.type 'memory'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewConfigManager()
			before := cm.GetConfig()
			err := cm.LoadFromYAML([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("expected error containing %q, got %v", tt.contains, err)
			}
			if cm.GetConfig() != before {
				t.Fatalf("a rejected config must not replace the current one")
			}
		})
	}
}

func TestPersistentQueueNeedsSharedCounters(t *testing.T) {
	cm := NewConfigManager()
	data := []byte(`
sequence:
  type: redis
writeback:
  queue_type: redis
  redis_config:
    endpoints: [localhost:6379]
`)
	if err := cm.LoadFromYAML(data); err != nil {
		t.Fatalf("redis counters with a redis queue must be accepted, got %v", err)
	}
}

func TestDatabaseDSNSkipsFieldChecks(t *testing.T) {
	cm := NewConfigManager()
	err := cm.LoadFromYAML([]byte("database:\n  type: postgresql\n  dsn: postgres://u@db/app\n"))
	if err != nil {
		t.Fatalf("expected a DSN to be sufficient, got %v", err)
	}
	if got := cm.GetConfig().DialectName(); got != "postgres" {
		t.Fatalf("expected the postgres dialect from the database type, got %s", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RELMAP_DIALECT":                   "mysql",
		"RELMAP_DATABASE_PORT":             "3306",
		"RELMAP_SEQUENCE_ENDPOINTS":        "a:1,b:2",
		"RELMAP_WRITEBACK_POLL_INTERVAL":   "250ms",
		"RELMAP_WRITEBACK_KAFKA_BROKERS":   "k1:9092",
		"RELMAP_LOGGING_DEVELOPMENT":       "true",
		"RELMAP_SEQUENCE_DYNAMODB_REGION":  "eu-west-1",
		"RELMAP_WRITEBACK_QUEUE_TYPE":      "",
		"RELMAP_UNRELATED_SETTING_IGNORED": "x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := DefaultInternalConfig()
	if err := applyEnv(c, lookup); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if c.Dialect != "mysql" || c.Database.Port != 3306 {
		t.Fatalf("unexpected dialect/port: %s %d", c.Dialect, c.Database.Port)
	}
	if len(c.Sequence.RedisConfig.Endpoints) != 2 || c.Sequence.RedisConfig.Endpoints[1] != "b:2" {
		t.Fatalf("unexpected endpoints %v", c.Sequence.RedisConfig.Endpoints)
	}
	if c.WriteBack.PollInterval != 250*time.Millisecond || !c.Logging.Development {
		t.Fatalf("unexpected writeback/logging config")
	}
	if c.WriteBack.QueueType != "memory" {
		t.Fatalf("empty variables must not override defaults, got %q", c.WriteBack.QueueType)
	}
	if c.Sequence.DynamoDBConfig.Region != "eu-west-1" || c.WriteBack.KafkaConfig.Brokers[0] != "k1:9092" {
		t.Fatalf("unexpected backend config")
	}

	bad := map[string]string{
		"RELMAP_DATABASE_PORT":           "abc",
		"RELMAP_WRITEBACK_POLL_INTERVAL": "soon",
	}
	err := applyEnv(DefaultInternalConfig(), func(k string) (string, bool) {
		v, ok := bad[k]
		return v, ok
	})
	if err == nil || !strings.Contains(err.Error(), "RELMAP_DATABASE_PORT") || !strings.Contains(err.Error(), "RELMAP_WRITEBACK_POLL_INTERVAL") {
		t.Fatalf("expected both invalid variables to be reported, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELMAP_DIALECT", "postgres")
	t.Setenv("RELMAP_LOGGING_LEVEL", "error")

	cm := NewConfigManager()
	if err := cm.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cm.GetConfig().DialectName() != "postgres" || cm.GetConfig().Logging.Level != "error" {
		t.Fatalf("unexpected config %+v", cm.GetConfig())
	}
}

func TestValidatorRegistry(t *testing.T) {
	if _, ok := GetValidator("memory"); !ok {
		t.Fatalf("expected the memory validator to be registered")
	}
	if _, ok := GetValidator("unknown"); ok {
		t.Fatalf("expected no validator for an unknown type")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for a duplicate validator")
		}
	}()
	RegisterValidator(stubValidator{typ: "memory"})
}
