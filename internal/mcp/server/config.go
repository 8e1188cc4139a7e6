package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlmedic/sqlmedic/internal/schema"
	"github.com/sqlmedic/sqlmedic/internal/session"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Pinger reports whether the backing database is reachable. *sql.DB
// satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Logger *slog.Logger

	// Runner answers natural language questions (the ask tool).
	Runner *session.Runner

	// Introspector, Validator, and Executor back the schema and query
	// tools, which bypass the LLM loop.
	Introspector schema.Introspector
	Validator    session.Validator
	Executor     session.Executor

	// DB, when set, is pinged by the readiness probe.
	DB Pinger

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Runner == nil {
		return fmt.Errorf("session runner is required")
	}
	if c.Introspector == nil {
		return fmt.Errorf("introspector is required")
	}
	if c.Validator == nil {
		return fmt.Errorf("validator is required")
	}
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
