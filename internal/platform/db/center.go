package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	CenterCodeKey contextKey = "center_code"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

var centerCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// CenterMiddleware resolves the clinic center for the request and pins a
// schema-scoped connection into the request context. Each center is isolated
// in its own Postgres schema (center_<code>).
func CenterMiddleware(pool *pgxpool.Pool, defaultCenter string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			code := extractCenterCode(c, defaultCenter)

			if !centerCodePattern.MatchString(code) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid center identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			schema := fmt.Sprintf("center_%s", code)
			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "center resolution failed")
			}

			ctx = context.WithValue(ctx, CenterCodeKey, code)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("center_code", code)
			c.Set("db", conn)

			return next(c)
		}
	}
}

func extractCenterCode(c echo.Context, defaultCenter string) string {
	// 1. Check JWT claim (set by auth middleware)
	if code, ok := c.Get("jwt_center_code").(string); ok && code != "" {
		return code
	}

	// 2. Check X-Center-Code header
	if code := c.Request().Header.Get("X-Center-Code"); code != "" {
		return code
	}

	// 3. Check query parameter
	if code := c.QueryParam("center_code"); code != "" {
		return code
	}

	return defaultCenter
}

// ConnFromContext retrieves the center-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// CenterFromContext retrieves the center code from context.
func CenterFromContext(ctx context.Context) string {
	code, _ := ctx.Value(CenterCodeKey).(string)
	return code
}

// TxFromContext retrieves an in-flight transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a transaction. The transaction is stored in the
// derived context so repositories resolve it through TxFromContext. Commits
// on success, rolls back on error or panic.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	var tx pgx.Tx
	var err error
	if conn := ConnFromContext(ctx); conn != nil {
		tx, err = conn.Begin(ctx)
	} else {
		tx, err = pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, DBTxKey, tx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CreateCenterSchema creates a new schema for a center and runs all
// migrations against it. If migrationsDir is empty, migrations are skipped.
func CreateCenterSchema(ctx context.Context, pool *pgxpool.Pool, code string, migrationsDir string) error {
	if !centerCodePattern.MatchString(code) {
		return fmt.Errorf("invalid center identifier: %s", code)
	}

	schema := fmt.Sprintf("center_%s", code)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
