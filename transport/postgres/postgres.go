// Package postgres provides a PostgreSQL-backed queue transport for
// protoroute.
//
// Messages are rows in <schema>.messages until acked. Each topic is consumed
// head first with the row id as offset; the head row is locked with
// SELECT ... FOR UPDATE, so several consumers can share a topic without
// overtaking each other. Ids follow insert order, so concurrent publishers to
// one topic can commit rows out of id order.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/lib/pq"

	"github.com/drblury/protoroute/transport"
	"github.com/drblury/protoroute/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

// DefaultSchemaName holds the queue table when no schema is configured.
const DefaultSchemaName = "protoroute"

var errURLRequired = errors.New("postgres: URL is required")

func init() {
	Register()
}

// Register adds the PostgreSQL transport to the default registry, also
// under the name "postgresql".
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	ConnectionString string
	// SchemaName is the schema of the queue table.
	SchemaName   string
	MaxOpenConns int
	MaxIdleConns int
	sqlqueue.Config
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// Dialect returns the statements for the queue table in schema.
func Dialect(schema string) sqlqueue.Dialect {
	table := pq.QuoteIdentifier(schema) + ".messages"
	return sqlqueue.Dialect{
		Name: TransportName,
		Schema: []string{
			`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(schema),
			`CREATE TABLE IF NOT EXISTS ` + table + ` (
				id BIGSERIAL PRIMARY KEY,
				topic TEXT NOT NULL,
				uuid TEXT NOT NULL,
				msg_key TEXT NOT NULL DEFAULT '',
				payload BYTEA NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				locked_until BIGINT,
				UNIQUE (topic, uuid)
			)`,
			`CREATE INDEX IF NOT EXISTS messages_topic_id ON ` + table + ` (topic, id)`,
		},
		Insert: `INSERT INTO ` + table + ` (topic, uuid, msg_key, payload, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (topic, uuid) DO NOTHING`,
		LockHead: `UPDATE ` + table + ` SET locked_until = $1
			WHERE id = (SELECT id FROM ` + table + ` WHERE topic = $2 ORDER BY id LIMIT 1 FOR UPDATE)
			AND (locked_until IS NULL OR locked_until < $3)
			RETURNING id, uuid, msg_key, payload, metadata`,
		Ack:     `DELETE FROM ` + table + ` WHERE id = $1`,
		Release: `UPDATE ` + table + ` SET locked_until = NULL WHERE id = $1`,
		Pending: `SELECT COUNT(*) FROM ` + table + ` WHERE topic = $1`,
	}
}

// Build creates a PostgreSQL transport from the service configuration.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: q, Subscriber: q}, nil
}

// New connects to the database and creates the queue table.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	if cfg.ConnectionString == "" {
		return nil, errURLRequired
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	q, err := sqlqueue.New(ctx, db, Dialect(cfg.SchemaName), cfg.Config, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}
