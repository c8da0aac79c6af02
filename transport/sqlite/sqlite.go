// Package sqlite provides a SQLite-backed queue transport for protoroute.
//
// Messages live in a single table until they are acked. Topics are consumed
// in publish order with the row id as offset, and a nacked message is
// redelivered before anything behind it. Suited to single-node deployments
// and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/protoroute/transport"
	"github.com/drblury/protoroute/transport/sqlqueue"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFilePath is used when no file is configured.
const DefaultFilePath = "protoroute_queue.db"

var dialect = sqlqueue.Dialect{
	Name: TransportName,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			uuid TEXT NOT NULL,
			msg_key TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			locked_until INTEGER,
			UNIQUE (topic, uuid)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_topic_id ON messages(topic, id)`,
	},
	Insert: `INSERT INTO messages (topic, uuid, msg_key, payload, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (topic, uuid) DO NOTHING`,
	LockHead: `UPDATE messages SET locked_until = ?
		WHERE id = (SELECT id FROM messages WHERE topic = ? ORDER BY id LIMIT 1)
		AND (locked_until IS NULL OR locked_until < ?)
		RETURNING id, uuid, msg_key, payload, metadata`,
	Ack:     `DELETE FROM messages WHERE id = ?`,
	Release: `UPDATE messages SET locked_until = NULL WHERE id = ?`,
	Pending: `SELECT COUNT(*) FROM messages WHERE topic = ?`,
}

func init() {
	Register()
}

// Register adds the SQLite transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the database file. ":memory:" keeps the queue in memory.
	FilePath string
	sqlqueue.Config
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	return c
}

// Build creates a SQLite transport from the service configuration.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: q, Subscriber: q}, nil
}

// New opens the database file and creates the queue table.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.FilePath, err)
	}
	// one writer; also keeps ":memory:" on a single database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	q, err := sqlqueue.New(ctx, db, dialect, cfg.Config, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}
