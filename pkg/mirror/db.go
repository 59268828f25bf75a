package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"codeberg.org/dirmirror/dirmirror/pkg/config"
)

// ErrNotFound is returned by single-record lookups for ids the mirror
// does not hold.
var ErrNotFound = errors.New("not found")

// Mirror is the local relational copy of the directory. All SQL is
// written with ? placeholders and rebound per driver.
type Mirror struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

func Open(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (*Mirror, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Mirror{
		db:     db,
		driver: cfg.Driver,
		logger: logger.With(zap.String("component", "mirror"), zap.String("driver", cfg.Driver)),
	}, nil
}

func (m *Mirror) Close() error {
	return m.db.Close()
}

// Setup creates the mirror tables when they do not exist yet.
func (m *Mirror) Setup(ctx context.Context) error {
	for _, stmt := range schemaStatements(m.driver) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	m.logger.Debug("schema ready")
	return nil
}

// Tx wraps one mirror transaction. The reconciler opens one per stage;
// the HTTP API opens one per write.
type Tx struct {
	tx *sqlx.Tx
}

func (m *Mirror) Begin(ctx context.Context) (*Tx, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

func (m *Mirror) rebind(query string) string {
	return m.db.Rebind(query)
}

func (t *Tx) rebind(query string) string {
	return t.tx.Rebind(query)
}

// limitClause returns the dialect's pagination clause and its argument
// order: sqlserver takes (offset, count), everything else (count, offset).
func (m *Mirror) limitClause() (clause string, offsetFirst bool) {
	if m.driver == "sqlserver" {
		return " OFFSET ? ROWS FETCH NEXT ? ROWS ONLY", true
	}
	return " LIMIT ? OFFSET ?", false
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

const usersTable = `
	id {KEY} PRIMARY KEY,
	login_name {TEXT} NOT NULL,
	email {TEXT} NOT NULL,
	last_name {TEXT} NOT NULL,
	user_type {TEXT} NOT NULL,
	status {TEXT} NOT NULL,
	first_name {TEXT},
	valid_from {TEXT},
	valid_to {TEXT},
	company {TEXT},
	country {TEXT},
	city {TEXT},
	directory_last_modified {TEXT},
	created_at {TEXT} NOT NULL,
	updated_at {TEXT} NOT NULL`

const groupsTable = `
	id {KEY} PRIMARY KEY,
	name {TEXT},
	display_name {TEXT} NOT NULL,
	description {TEXT},
	directory_last_modified {TEXT},
	created_at {TEXT} NOT NULL,
	updated_at {TEXT} NOT NULL`

const membersTable = `
	group_id {KEY} NOT NULL,
	user_id {KEY} NOT NULL,
	created_at {TEXT} NOT NULL,
	PRIMARY KEY (group_id, user_id)`

func schemaStatements(driver string) []string {
	key, text := "TEXT", "TEXT"
	switch driver {
	case "mysql":
		key, text = "VARCHAR(255)", "VARCHAR(512)"
	case "sqlserver":
		key, text = "NVARCHAR(255)", "NVARCHAR(512)"
	}

	expand := func(body string) string {
		body = strings.ReplaceAll(body, "{KEY}", key)
		return strings.ReplaceAll(body, "{TEXT}", text)
	}

	stmts := []string{
		createTable(driver, "users", expand(usersTable)),
		createTable(driver, "user_groups", expand(groupsTable)),
		createTable(driver, "group_members", expand(membersTable)),
		createIndex(driver, "ix_group_members_user", "group_members", "user_id"),
	}
	return stmts
}

func createTable(driver, name, body string) string {
	if driver == "sqlserver" {
		return fmt.Sprintf("IF OBJECT_ID('%s', 'U') IS NULL CREATE TABLE %s (%s)", name, name, body)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, body)
}

func createIndex(driver, name, table, column string) string {
	if driver == "sqlserver" {
		return fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s') CREATE INDEX %s ON %s (%s)",
			name, name, table, column)
	}
	if driver == "mysql" {
		// MySQL has no IF NOT EXISTS for indexes; rely on the schema
		// being applied once per fresh database.
		return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, table, column)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, column)
}
