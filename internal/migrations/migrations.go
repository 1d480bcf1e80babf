// Package migrations embeds the SQL schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/complicesconecta/backend/internal/db"
)

//go:embed *.sql
var FS embed.FS

const (
	maxRetries  = 2
	baseBackoff = 100 * time.Millisecond
	maxBackoff  = 3 * time.Second
)

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// Run executes command, one of up, status or down, against conn.
func Run(ctx context.Context, conn *sql.DB, command string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(FS)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	switch command {
	case "up", "":
		return withRetry(ctx, logger, "up", func(ctx context.Context) error {
			return goose.UpContext(ctx, conn, ".")
		})
	case "status":
		return goose.StatusContext(ctx, conn, ".")
	case "down":
		return withRetry(ctx, logger, "down", func(ctx context.Context) error {
			return goose.DownContext(ctx, conn, ".")
		})
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

// Up applies every pending migration.
func Up(ctx context.Context, conn *sql.DB) error {
	return Run(ctx, conn, "up", nil)
}

func withRetry(ctx context.Context, logger *slog.Logger, op string, fn func(context.Context) error) error {
	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseBackoff))
	backoff = retry.WithMaxRetries(maxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			if db.IsRetryable(err) {
				logger.Warn("transient migration failure", "op", op, "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	return nil
}

type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l gooseLogger) Fatalf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
	os.Exit(1)
}
