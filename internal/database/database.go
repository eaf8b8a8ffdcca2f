package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL Driver
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"cspdns/internal/config"
)

// migrationsTable keeps our version bookkeeping apart from the name server's tables.
const migrationsTable = "cs_schema_migrations"

//go:embed migrations
var migrationsFS embed.FS

type DB struct {
	conn *sqlx.DB
	now  func() time.Time
}

// Open connects to the PowerDNS database and creates cs_mapping if needed.
func Open(ctx context.Context, log *logrus.Entry, cfg config.DatabaseConfig) (*DB, error) {
	driverName, dsn := DataSource(cfg)
	conn, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one event in flight at a time; a small pool is enough
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(conn.DB, cfg.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.WithField("driver", cfg.Driver).Info("database migrations applied successfully")

	return newDB(conn), nil
}

func newDB(conn *sqlx.DB) *DB {
	return &DB{conn: conn, now: time.Now}
}

// DataSource returns the database/sql driver name and DSN for cfg.
func DataSource(cfg config.DatabaseConfig) (string, string) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	if cfg.Driver == config.DriverPostgres {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   addr,
			Path:   "/" + cfg.Name,
		}
		return "pgx", u.String()
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = addr
	mc.DBName = cfg.Name
	return "mysql", mc.FormatDSN()
}

func runMigrations(conn *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("could not create iofs source: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case config.DriverPostgres:
		d, err := migratepg.WithInstance(conn, &migratepg.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", d)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	default:
		d, err := migratemysql.WithInstance(conn, &migratemysql.Config{MigrationsTable: migrationsTable})
		if err != nil {
			return fmt.Errorf("could not create migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "mysql", d)
		if err != nil {
			return fmt.Errorf("could not create migrate instance: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("an error occurred while syncing the database: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Begin starts the transaction that carries every write of one event. The
// pooled connection behind it is released by Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, now: db.now}, nil
}

type Tx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

func (t *Tx) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
