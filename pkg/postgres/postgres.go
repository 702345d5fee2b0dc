package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Config struct {
	DSN        string `envconfig:"PG_DSN"`
	MaxConns   int    `envconfig:"PG_MAX_CONNS" default:"4"`
	ViaBouncer bool   `envconfig:"PG_VIA_BOUNCER" default:"false"`
	// ConnectTimeout in seconds.
	ConnectTimeout int `envconfig:"PG_CONNECT_TIMEOUT" default:"10"`
}

func (c *Config) New(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("PG_DSN is empty")
	}
	cfg, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse PG_DSN: %w", err)
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = int32(c.MaxConns)
	}
	if c.ViaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.ConnectTimeout)*time.Second)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (c *Config) MustNew(ctx context.Context) *pgxpool.Pool {
	pool, err := c.New(ctx)
	if err != nil {
		panic(err)
	}
	return pool
}
