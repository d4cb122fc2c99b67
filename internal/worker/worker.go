package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"txbench/api/benchdriverapi"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverRedis    Driver = "redis"
	DriverSim      Driver = "sim"
)

var ErrNoEndpoint = errors.New("no endpoint configured")

// Config describes how to reach the system under test.
type Config struct {
	Driver   Driver
	Host     string
	Port     string
	User     string
	Pass     string
	Database string
	SSLMode  string
}

func (cfg *Config) IsSQL() bool {
	return cfg.Driver == DriverPostgres || cfg.Driver == DriverMySQL
}

func (cfg *Config) addr(defaultPort string) string {
	port := cfg.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(cfg.Host, port)
}

func (cfg *Config) ConnString() string {
	if cfg.Host == "" {
		return ""
	}

	switch cfg.Driver {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = cfg.addr("3306")
		mc.User = cfg.User
		mc.Passwd = cfg.Pass
		mc.DBName = cfg.Database
		return mc.FormatDSN()

	case DriverRedis:
		return cfg.addr("6379")

	case DriverPostgres, "":
		params := map[string]string{
			"host":     cfg.Host,
			"port":     cfg.Port,
			"user":     cfg.User,
			"password": cfg.Pass,
			"dbname":   cfg.Database,
			"sslmode":  cfg.SSLMode,
		}

		var parts []string
		for _, key := range slices.Sorted(maps.Keys(params)) {
			if value := params[key]; value != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", key, value))
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func OpenDB(cfg Config) (*sql.DB, error) {
	if !cfg.IsSQL() {
		return nil, fmt.Errorf("driver %q is not a SQL driver", cfg.Driver)
	}

	connstr := cfg.ConnString()
	if connstr == "" {
		return nil, ErrNoEndpoint
	}
	return sql.Open(string(cfg.Driver), connstr)
}

// RedisOptions returns the client options for a single connection client.
func (cfg *Config) RedisOptions() (*redis.Options, error) {
	if cfg.Host == "" {
		return nil, ErrNoEndpoint
	}

	db := 0
	if cfg.Database != "" {
		var err error
		if db, err = strconv.Atoi(cfg.Database); err != nil {
			return nil, fmt.Errorf("invalid redis database %q: %w", cfg.Database, err)
		}
	}

	return &redis.Options{
		Addr:     cfg.addr("6379"),
		Username: cfg.User,
		Password: cfg.Pass,
		DB:       db,
		PoolSize: 1,
	}, nil
}

// Ping checks that the configured system is reachable.
func Ping(ctx context.Context, cfg Config) error {
	switch cfg.Driver {
	case DriverSim:
		return nil

	case DriverRedis:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		return client.Ping(ctx).Err()

	case DriverPostgres, DriverMySQL:
		db, err := OpenDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.PingContext(ctx)

	default:
		return fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

type Task struct {
	Name       benchdriverapi.TaskName
	Task       func(context.Context) (any, error)
	CheckReady func(context.Context) (bool, error)
}

func (t *Task) IsReady(ctx context.Context) (bool, error) {
	if t.CheckReady == nil {
		return true, nil
	}
	return t.CheckReady(ctx)
}

type TaskFactory[Config any] interface {
	Prepare(config Config) (Task, error)
	Cleanup() (Task, error)
	Run(config Config) (Task, error)
}
