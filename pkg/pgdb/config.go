package pgdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Config holds the connection options for a single database server.
// Host, User and Database are required; everything else has a working
// default. RuntimeParams is forwarded to the server verbatim for
// options this package does not recognize.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	SSLMode  string

	// Pool sizing. Zero values leave the pgxpool defaults in place.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	RuntimeParams map[string]string
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Database == "" {
		return errors.New("database is required")
	}
	return nil
}

// ConnString renders the config as a postgres:// URL.
func (c *Config) ConnString() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns the connection URL with the password masked, for logs.
func (c *Config) Redacted() string {
	masked := *c
	if masked.Password != "" {
		masked.Password = "xxxxx"
	}
	return masked.ConnString()
}

// WithDatabase returns a copy of the config pointing at a different
// database on the same server, keeping credentials and pool sizing.
func (c *Config) WithDatabase(database string) *Config {
	sibling := *c
	sibling.Database = database
	if c.RuntimeParams != nil {
		sibling.RuntimeParams = make(map[string]string, len(c.RuntimeParams))
		for k, v := range c.RuntimeParams {
			sibling.RuntimeParams[k] = v
		}
	}
	return &sibling
}

// PoolConfig translates the config into a pgxpool config.
func (c *Config) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection config: %w", err)
	}
	if c.MaxConns > 0 {
		poolConfig.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		poolConfig.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	}
	for k, v := range c.RuntimeParams {
		poolConfig.ConnConfig.RuntimeParams[k] = v
	}
	return poolConfig, nil
}

// NewPool builds a connection pool from the config.
func (c *Config) NewPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := c.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return pool, nil
}
