package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnStringPostgres(t *testing.T) {
	cfg := Config{
		Driver:   DriverPostgres,
		Host:     "db",
		Port:     "5432",
		User:     "bench",
		Database: "as2",
		SSLMode:  "disable",
	}
	assert.Equal(t, "dbname=as2 host=db port=5432 sslmode=disable user=bench", cfg.ConnString())
}

func TestConnStringMySQL(t *testing.T) {
	cfg := Config{Driver: DriverMySQL, Host: "db", User: "root", Pass: "secret", Database: "as2"}
	assert.Equal(t, "root:secret@tcp(db:3306)/as2", cfg.ConnString())
}

func TestConnStringEmptyHost(t *testing.T) {
	cfg := Config{Driver: DriverPostgres}
	assert.Empty(t, cfg.ConnString())

	_, err := OpenDB(cfg)
	require.ErrorIs(t, err, ErrNoEndpoint)
}

func TestOpenDBRejectsNonSQL(t *testing.T) {
	_, err := OpenDB(Config{Driver: DriverRedis, Host: "localhost"})
	require.Error(t, err)
}

func TestRedisOptions(t *testing.T) {
	cfg := Config{Driver: DriverRedis, Host: "cache", Database: "2"}
	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 1, opts.PoolSize)

	cfg.Database = "first"
	_, err = cfg.RedisOptions()
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	srv := miniredis.RunT(t)

	cfg := Config{Driver: DriverRedis, Host: srv.Host(), Port: srv.Port()}
	require.NoError(t, Ping(context.Background(), cfg))

	require.NoError(t, Ping(context.Background(), Config{Driver: DriverSim}))
	require.Error(t, Ping(context.Background(), Config{Driver: "oracle"}))
}

func TestTaskIsReady(t *testing.T) {
	task := Task{}
	ok, err := task.IsReady(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
