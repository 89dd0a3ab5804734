// cmd/catalogctl/context.go
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/animeverse/catalog-go/internal/account"
	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/catalog"
	"github.com/animeverse/catalog-go/internal/config"
	"github.com/animeverse/catalog-go/internal/engagement"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/storage"
)

// commandContext lazily loads configuration and opens the store shared by
// every subcommand of one invocation.
type commandContext struct {
	configFlag *string

	once  sync.Once
	cfg   config.Config
	store storage.Store
	err   error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) open() (storage.Store, error) {
	c.once.Do(func() {
		if c.configFlag != nil {
			if path := strings.TrimSpace(*c.configFlag); path != "" {
				if err := os.Setenv(config.EnvPrefix+"CONFIG_FILE", path); err != nil {
					c.err = err
					return
				}
			}
		}
		c.cfg, c.err = config.Load()
		if c.err != nil {
			return
		}
		switch {
		case c.cfg.DatabaseDSN != "":
			c.store, c.err = storage.NewPostgres(c.cfg.DatabaseDSN)
		case c.cfg.SQLitePath != "":
			c.store, c.err = storage.NewSQLite(c.cfg.SQLitePath)
		default:
			c.err = fmt.Errorf("set %sDB_DSN or %sSQLITE_PATH; the in-memory store does not outlive this command",
				config.EnvPrefix, config.EnvPrefix)
		}
		if c.err != nil {
			c.store = nil
		}
	})
	return c.store, c.err
}

func (c *commandContext) close() {
	if c.store == nil {
		return
	}
	if closer, ok := c.store.(interface{ Close() }); ok {
		closer.Close()
	}
}

// services wires the domain services over the opened store. Activity is
// recorded in the store only; the CLI never publishes to the event stream.
type services struct {
	accounts   *account.Service
	catalog    *catalog.Service
	engagement *engagement.Service
}

func (c *commandContext) services() (*services, error) {
	store, err := c.open()
	if err != nil {
		return nil, err
	}
	rec := event.NewRecorder(store, nil, nil)
	tokens := auth.NewTokens(c.cfg.JWTSecret, c.cfg.JWTIssuer, c.cfg.JWTAudience, c.cfg.TokenTTL)
	return &services{
		accounts:   account.NewService(store, tokens, rec),
		catalog:    catalog.NewService(store, rec, nil),
		engagement: engagement.NewService(store, rec),
	}, nil
}

// newLogger writes text logs to stderr so stdout stays machine readable.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
