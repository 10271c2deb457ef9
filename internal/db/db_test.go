package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/config"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

func TestNewConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres container test in short mode")
	}

	pg := testutil.StartPostgres(t)
	cfg := &config.Config{
		DBHost:     pg.Host,
		DBPort:     pg.Port,
		DBUsername: pg.Username,
		DBPassword: pg.Password,
		DBName:     pg.Database,
		DBSSLMode:  "disable",
	}
	ctx := context.Background()

	t.Run("opens a sized pool", func(t *testing.T) {
		pool, err := NewConnection(ctx, cfg)
		require.NoError(t, err)
		defer CloseConnection(pool)

		assert.NoError(t, pool.Ping(ctx))
		assert.Equal(t, int32(maxConns), pool.Stat().MaxConns())
	})

	t.Run("closed pool stops answering", func(t *testing.T) {
		pool, err := NewConnection(ctx, cfg)
		require.NoError(t, err)

		CloseConnection(pool)
		assert.Error(t, pool.Ping(ctx))
	})

	t.Run("wrong password fails", func(t *testing.T) {
		bad := *cfg
		bad.DBPassword = "wrong"

		_, err := NewConnection(ctx, &bad)
		assert.Error(t, err)
	})
}

func TestNewConnectionUnreachableHost(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "invalid-host-that-does-not-exist",
		DBPort:     "5432",
		DBUsername: "invalid",
		DBPassword: "invalid",
		DBName:     "invalid",
		DBSSLMode:  "disable",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewConnection(ctx, cfg)
	assert.Error(t, err)
}

func TestCloseConnectionIgnoresNil(t *testing.T) {
	assert.NotPanics(t, func() { CloseConnection(nil) })
}
