// Package sqlqueue is the table-backed queue behind the postgres and sqlite
// transports.
//
// Every topic is consumed head first: only the row with the lowest id of a
// topic is ever handed out, and it stays the head until it is acked. A nacked
// row is released and delivered again before anything published after it, so
// a halted message holds its topic the way a Kafka partition is held. The row
// id is the offset; there is a single partition, 0.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"

	"github.com/drblury/protoroute/transport"
)

const (
	// DefaultPollInterval is how long an idle topic waits before looking again.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLockTimeout is how long a delivered row stays locked. A consumer
	// that dies mid-message releases it when the lock runs out.
	DefaultLockTimeout = 30 * time.Second
)

var errClosed = errors.New("sqlqueue: transport is closed")

// Dialect holds the statements of one database. Placeholders follow the
// driver; the argument order is fixed:
//
//	Insert:   topic, uuid, key, payload, metadata
//	LockHead: lockedUntil, topic, now (unix millis); returns id, uuid, key, payload, metadata
//	Ack, Release: id
//	Pending:  topic
type Dialect struct {
	Name     string
	Schema   []string
	Insert   string
	LockHead string
	Ack      string
	Release  string
	Pending  string
}

// Config tunes polling and locking.
type Config struct {
	PollInterval time.Duration
	LockTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

// Queue implements message.Publisher and message.Subscriber on a database.
type Queue struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	logger  watermill.LoggerAdapter

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New creates the queue tables and returns a queue owning db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: create schema: %w", dialect.Name, err)
		}
	}
	return &Queue{
		db:      db,
		dialect: dialect,
		config:  cfg.withDefaults(),
		logger:  logger.With(watermill.LogFields{"transport": dialect.Name}),
		closing: make(chan struct{}),
	}, nil
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}

// Publish inserts messages in one transaction. A message whose UUID is
// already queued on topic is ignored, so republishing is idempotent.
func (q *Queue) Publish(topic string, messages ...*message.Message) error {
	if q.isClosed() {
		return errClosed
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin: %w", q.dialect.Name, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			q.logger.Error("Rollback failed", err, nil)
		}
	}()

	stmt, err := tx.Prepare(q.dialect.Insert)
	if err != nil {
		return fmt.Errorf("%s: prepare insert: %w", q.dialect.Name, err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := EncodeMetadata(msg.Metadata)
		if err != nil {
			return err
		}
		payload := []byte(msg.Payload)
		if payload == nil {
			payload = []byte{}
		}
		key := msg.Metadata.Get(transport.MetadataKeyKey)
		if _, err := stmt.Exec(topic, msg.UUID, key, payload, metadata); err != nil {
			return fmt.Errorf("%s: insert message %s: %w", q.dialect.Name, msg.UUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", q.dialect.Name, err)
	}
	return nil
}

// Subscribe delivers the rows of topic one at a time, in id order.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if q.isClosed() {
		return nil, errClosed
	}

	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.consume(ctx, topic, out)
	return out, nil
}

func (q *Queue) consume(ctx context.Context, topic string, out chan<- *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		for q.deliverHead(ctx, topic, out) {
		}
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
		}
	}
}

type row struct {
	id       int64
	uuid     string
	key      string
	payload  []byte
	metadata string
}

// deliverHead hands out the head of topic and waits for its ack. It reports
// whether the row was acked, in which case the next row can follow at once.
func (q *Queue) deliverHead(ctx context.Context, topic string, out chan<- *message.Message) bool {
	if ctx.Err() != nil || q.isClosed() {
		return false
	}

	r, err := q.lockHead(ctx, topic)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
			q.logger.Error("Locking head row failed", err, watermill.LogFields{"topic": topic})
		}
		return false
	}

	msg, err := r.message()
	if err != nil {
		// undecodable metadata is not a reason to hold the topic
		q.logger.Error("Decoding row metadata failed", err, watermill.LogFields{"topic": topic, "offset": r.id})
	}
	msg.SetContext(ctx)

	select {
	case out <- msg:
	case <-ctx.Done():
		q.release(r.id)
		return false
	case <-q.closing:
		q.release(r.id)
		return false
	}

	select {
	case <-msg.Acked():
		if _, err := q.db.Exec(q.dialect.Ack, r.id); err != nil {
			q.logger.Error("Ack failed", err, watermill.LogFields{"topic": topic, "offset": r.id})
			return false
		}
		return true
	case <-msg.Nacked():
	case <-ctx.Done():
	case <-q.closing:
	}
	q.release(r.id)
	return false
}

func (q *Queue) lockHead(ctx context.Context, topic string) (row, error) {
	now := time.Now()
	lockedUntil := now.Add(q.config.LockTimeout)

	var r row
	err := q.db.QueryRowContext(ctx, q.dialect.LockHead, lockedUntil.UnixMilli(), topic, now.UnixMilli()).
		Scan(&r.id, &r.uuid, &r.key, &r.payload, &r.metadata)
	return r, err
}

func (q *Queue) release(id int64) {
	if _, err := q.db.Exec(q.dialect.Release, id); err != nil {
		q.logger.Error("Release failed", err, watermill.LogFields{"offset": id})
	}
}

func (r row) message() (*message.Message, error) {
	msg := message.NewMessage(r.uuid, r.payload)
	md, err := DecodeMetadata(r.metadata)
	if md != nil {
		msg.Metadata = md
	}
	transport.SetPosition(msg, 0, r.id, []byte(r.key))
	return msg, err
}

// Pending returns the number of queued rows of topic, including a row that
// is currently delivered.
func (q *Queue) Pending(ctx context.Context, topic string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, q.dialect.Pending, topic).Scan(&n)
	return n, err
}

// DB returns the underlying database.
func (q *Queue) DB() *sql.DB { return q.db }

// Close stops every subscription, releases delivered rows and closes the
// database.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.closing)
		q.wg.Wait()
		err = q.db.Close()
	})
	return err
}

// EncodeMetadata serialises metadata for storage. Position keys are left
// out; the queue assigns its own on delivery.
func EncodeMetadata(md message.Metadata) (string, error) {
	stored := make(map[string]string, len(md))
	for k, v := range md {
		if transport.IsPositionKey(k) {
			continue
		}
		stored[k] = v
	}
	encoded, err := sonic.MarshalString(stored)
	if err != nil {
		return "", fmt.Errorf("sqlqueue: encode metadata: %w", err)
	}
	return encoded, nil
}

// DecodeMetadata is the inverse of EncodeMetadata. It always returns a
// usable map.
func DecodeMetadata(encoded string) (message.Metadata, error) {
	md := make(message.Metadata)
	if encoded == "" {
		return md, nil
	}
	var stored map[string]string
	if err := sonic.UnmarshalString(encoded, &stored); err != nil {
		return md, fmt.Errorf("sqlqueue: decode metadata: %w", err)
	}
	for k, v := range stored {
		md[k] = v
	}
	return md, nil
}
