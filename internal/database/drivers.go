package database

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/rzpsarthak13/relmap/internal/registry"
	"github.com/rzpsarthak13/relmap/internal/schema"
)

// ErrClosed is returned for statements issued after Close.
var ErrClosed = errors.New("database is closed")

// Config describes a database connection.
type Config struct {
	Type              string
	DSN               string // Overrides the fields below when set
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	SSLMode           string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// ConfigFromInternal converts the registry configuration section.
func ConfigFromInternal(c registry.InternalDatabaseConfig) Config {
	return Config{
		Type:              c.Type,
		DSN:               c.DSN,
		Host:              c.Host,
		Port:              c.Port,
		Database:          c.Database,
		Username:          c.Username,
		Password:          c.Password,
		SSLMode:           c.SSLMode,
		MaxOpenConns:      c.MaxOpenConns,
		MaxIdleConns:      c.MaxIdleConns,
		ConnMaxLifetime:   c.ConnMaxLifetime,
		ConnMaxIdleTime:   c.ConnMaxIdleTime,
		ConnectionTimeout: c.ConnectionTimeout,
	}
}

// Driver knows how to reach one database engine through database/sql.
type Driver interface {
	// Name is the database/sql driver name.
	Name() string

	// Aliases are additional config type names accepted for the driver.
	Aliases() []string

	// Dialect is the SQL dialect of the engine.
	Dialect() schema.Dialect

	// DSN builds a data source name from the connection fields.
	DSN(config Config) (string, error)

	// TablesQuery lists the base tables of the current schema.
	TablesQuery() string
}

var (
	driverRegistry      = make(map[string]Driver)
	driverRegistryMutex sync.RWMutex
)

// RegisterDriver registers a driver under its name and aliases.
// Panics if a name is already registered.
func RegisterDriver(d Driver) {
	if d == nil {
		panic("driver cannot be nil")
	}
	driverRegistryMutex.Lock()
	defer driverRegistryMutex.Unlock()

	for _, name := range append([]string{d.Name()}, d.Aliases()...) {
		if _, exists := driverRegistry[name]; exists {
			panic(fmt.Sprintf("driver %q is already registered", name))
		}
		driverRegistry[name] = d
	}
}

func lookupDriverByName(name string) (Driver, bool) {
	driverRegistryMutex.RLock()
	defer driverRegistryMutex.RUnlock()
	d, ok := driverRegistry[strings.ToLower(name)]
	return d, ok
}

func lookupDriver(name string) (Driver, error) {
	if name == "" {
		return nil, fmt.Errorf("database type is required")
	}
	d, ok := lookupDriverByName(name)
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s (supported: %s)", name, strings.Join(SupportedTypes(), ", "))
	}
	return d, nil
}

// SupportedTypes returns the accepted database type names, sorted.
func SupportedTypes() []string {
	driverRegistryMutex.RLock()
	defer driverRegistryMutex.RUnlock()

	names := make([]string, 0, len(driverRegistry))
	for n := range driverRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DialectFor returns the dialect of a database type.
func DialectFor(databaseType string) (schema.Dialect, error) {
	d, err := lookupDriver(databaseType)
	if err != nil {
		return nil, err
	}
	return d.Dialect(), nil
}

type mysqlDriver struct{}

func (mysqlDriver) Name() string            { return "mysql" }
func (mysqlDriver) Aliases() []string       { return nil }
func (mysqlDriver) Dialect() schema.Dialect { return schema.MySQL }

func (mysqlDriver) DSN(c Config) (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("database host is required")
	}
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.Timeout = c.ConnectionTimeout
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func (mysqlDriver) TablesQuery() string {
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'"
}

type postgresDriver struct{}

func (postgresDriver) Name() string            { return "postgres" }
func (postgresDriver) Aliases() []string       { return []string{"postgresql"} }
func (postgresDriver) Dialect() schema.Dialect { return schema.Postgres }

func (postgresDriver) DSN(c Config) (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("database host is required")
	}
	parts := []string{
		"host=" + quoteDSNValue(c.Host),
		"port=" + strconv.Itoa(c.Port),
	}
	if c.Username != "" {
		parts = append(parts, "user="+quoteDSNValue(c.Username))
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(c.Password))
	}
	if c.Database != "" {
		parts = append(parts, "dbname="+quoteDSNValue(c.Database))
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, "sslmode="+quoteDSNValue(sslMode))
	if c.ConnectionTimeout > 0 {
		secs := int(c.ConnectionTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
	}
	return strings.Join(parts, " "), nil
}

func (postgresDriver) TablesQuery() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'"
}

// quoteDSNValue quotes a libpq key/value connection string value.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func init() {
	RegisterDriver(mysqlDriver{})
	RegisterDriver(postgresDriver{})
}
