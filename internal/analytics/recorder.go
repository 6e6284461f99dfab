// Package analytics records chat traffic and accepted commands to PostgreSQL
// for later analysis. Recording is fire-and-forget: the pipeline never waits on the
// database, and records are dropped when the buffer is full.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
)

const (
	commandsTable = "cv_commands"
	messagesTable = "chat_messages"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cv_commands (
	id                 BIGSERIAL PRIMARY KEY,
	username           TEXT        NOT NULL,
	variable_name      TEXT        NOT NULL,
	value              INTEGER     NOT NULL,
	processing_time_ms DOUBLE PRECISION NOT NULL,
	success            BOOLEAN     NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
	id                 BIGSERIAL PRIMARY KEY,
	username           TEXT        NOT NULL,
	channel            TEXT        NOT NULL,
	message            TEXT        NOT NULL,
	is_command         BOOLEAN     NOT NULL DEFAULT FALSE,
	command_type       TEXT,
	processing_time_ms DOUBLE PRECISION NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

// Record is one processed command.
type Record struct {
	User           string
	Variable       string
	Value          int
	ProcessingTime time.Duration
	Success        bool
	Timestamp      time.Time
}

// ChatMessage is one chat line seen by the pipeline, command or not.
type ChatMessage struct {
	User           string
	Channel        string
	Text           string
	IsCommand      bool
	CommandType    string // "cv", "admin", "display" or empty
	ProcessingTime time.Duration
	Timestamp      time.Time
}

// Options tunes the recorder. Buffer applies to each queue.
type Options struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{Buffer: 1024, BatchSize: 50, FlushInterval: time.Second}
}

// Stats counts recorder outcomes in rows, across both tables.
type Stats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Recorder batches records into cv_commands and chat lines into
// chat_messages.
type Recorder struct {
	db       *sql.DB
	opts     Options
	records  chan Record
	messages chan ChatMessage

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewRecorder creates a recorder. Zero option fields take defaults.
func NewRecorder(db *sql.DB, opts Options) *Recorder {
	def := DefaultOptions()
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	return &Recorder{
		db:       db,
		opts:     opts,
		records:  make(chan Record, opts.Buffer),
		messages: make(chan ChatMessage, opts.Buffer),
	}
}

// EnsureSchema creates the tables if needed.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create analytics schema: %w", err)
		}
	}
	return nil
}

// Record queues rec without blocking. Returns false if it was dropped.
func (r *Recorder) Record(rec Record) bool {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	select {
	case r.records <- rec:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// RecordMessage queues msg without blocking. Returns false if it was dropped.
func (r *Recorder) RecordMessage(msg ChatMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case r.messages <- msg:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

type batch struct {
	commands []Record
	messages []ChatMessage
}

// Run writes queued rows until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	b := &batch{
		commands: make([]Record, 0, r.opts.BatchSize),
		messages: make([]ChatMessage, 0, r.opts.BatchSize),
	}

	for {
		select {
		case <-ctx.Done():
			r.drain(b)
			return
		case rec := <-r.records:
			b.commands = append(b.commands, rec)
			if len(b.commands) >= r.opts.BatchSize {
				r.flushCommands(ctx, b)
			}
		case msg := <-r.messages:
			b.messages = append(b.messages, msg)
			if len(b.messages) >= r.opts.BatchSize {
				r.flushMessages(ctx, b)
			}
		case <-ticker.C:
			r.flushCommands(ctx, b)
			r.flushMessages(ctx, b)
		}
	}
}

// drain empties both queues after shutdown, with a short timeout independent
// of the cancelled run context.
func (r *Recorder) drain(b *batch) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-r.records:
			b.commands = append(b.commands, rec)
			if len(b.commands) >= r.opts.BatchSize {
				r.flushCommands(ctx, b)
			}
		case msg := <-r.messages:
			b.messages = append(b.messages, msg)
			if len(b.messages) >= r.opts.BatchSize {
				r.flushMessages(ctx, b)
			}
		default:
			r.flushCommands(ctx, b)
			r.flushMessages(ctx, b)
			return
		}
	}
}

func (r *Recorder) flushCommands(ctx context.Context, b *batch) {
	if len(b.commands) == 0 {
		return
	}
	r.account(commandsTable, len(b.commands), r.writeCommands(ctx, b.commands))
	b.commands = b.commands[:0]
}

func (r *Recorder) flushMessages(ctx context.Context, b *batch) {
	if len(b.messages) == 0 {
		return
	}
	r.account(messagesTable, len(b.messages), r.writeMessages(ctx, b.messages))
	b.messages = b.messages[:0]
}

func (r *Recorder) account(table string, n int, err error) {
	if err != nil {
		r.failed.Add(uint64(n))
		log.Printf("[Analytics] Failed to write %d rows to %s: %v", n, table, err)
		return
	}
	r.written.Add(uint64(n))
}

func (r *Recorder) writeCommands(ctx context.Context, rows []Record) error {
	args := make([]any, 0, len(rows)*6)
	for _, rec := range rows {
		args = append(args,
			rec.User,
			rec.Variable,
			rec.Value,
			millis(rec.ProcessingTime),
			rec.Success,
			rec.Timestamp,
		)
	}
	query := insert(commandsTable, []string{"username", "variable_name", "value", "processing_time_ms", "success", "created_at"}, len(rows))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *Recorder) writeMessages(ctx context.Context, rows []ChatMessage) error {
	args := make([]any, 0, len(rows)*7)
	for _, msg := range rows {
		var commandType any
		if msg.CommandType != "" {
			commandType = msg.CommandType
		}
		args = append(args,
			msg.User,
			msg.Channel,
			msg.Text,
			msg.IsCommand,
			commandType,
			millis(msg.ProcessingTime),
			msg.Timestamp,
		)
	}
	query := insert(messagesTable, []string{"username", "channel", "message", "is_command", "command_type", "processing_time_ms", "created_at"}, len(rows))
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// insert builds a multi-row INSERT with numbered placeholders.
func insert(table string, columns []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	n := 0
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(",")
			}
			n++
			fmt.Fprintf(&b, "$%d", n)
		}
		b.WriteString(")")
	}
	return b.String()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Stats returns recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{Written: r.written.Load(), Dropped: r.dropped.Load(), Failed: r.failed.Load()}
}
