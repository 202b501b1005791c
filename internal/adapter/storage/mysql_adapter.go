package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

// MySQL server error numbers.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrNoReferencedRow = 1452
)

const defaultLockWaitTimeout = 5 * time.Second

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *sql.DB and *sql.Tx, so the same store code
// runs inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db       *sql.DB
	lockWait time.Duration
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

// NewMySQLAdapter wraps db. lockWait bounds how long a transaction waits for
// a row lock before failing with domain.ErrLockTimeout; MySQL only honours
// whole seconds.
func NewMySQLAdapter(db *sql.DB, lockWait time.Duration) *MySQLAdapter {
	if lockWait <= 0 {
		lockWait = defaultLockWaitTimeout
	}
	return &MySQLAdapter{db: db, lockWait: lockWait}
}

// WithinTx runs fn inside a READ COMMITTED transaction. Row locks are taken
// explicitly by the stores with SELECT ... FOR UPDATE.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", classifyMySQLError(err))
	}
	defer tx.Rollback()

	// The session variable stays on the pooled connection after the
	// transaction ends. Every transaction sets it again before its first
	// locking read, so none of them runs with a value left by another caller.
	if _, err := tx.ExecContext(ctx, `SET SESSION innodb_lock_wait_timeout = ?`, lockWaitSeconds(m.lockWait)); err != nil {
		return fmt.Errorf("set lock wait timeout: %w", classifyMySQLError(err))
	}

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classifyMySQLError(err))
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

type mysqlTx struct {
	q querier
}

func (t *mysqlTx) Sales() port.SaleStore { return saleStore{q: t.q} }

func (t *mysqlTx) Inventory() port.InventoryStore { return inventoryStore{q: t.q} }

func (t *mysqlTx) SaleItems() port.SaleItemStore { return saleItemStore{q: t.q} }

// classifyMySQLError tags lock wait timeouts and deadlocks with
// domain.ErrLockTimeout, keeping the driver error in the chain.
func classifyMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	}
	return err
}

func isMySQLError(err error, number uint16) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == number
}

func lockWaitSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// splitStatements drops "--" comment lines and splits on ";".
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
