package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Antony-Jia/butler/internal/scheduler"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// opTimeout bounds every single store operation.
const opTimeout = 5 * time.Second

// ConversationTurn represents a single message in a conversation history.
type ConversationTurn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Thread is the persisted metadata of an execution thread.
type Thread struct {
	ID            string
	Mode          scheduler.Mode
	Title         string
	WorkspacePath string
	Started       bool // An agent session has been opened on this thread
	Loop          *scheduler.LoopConfig
	LoopStartedAt *time.Time
	CreatedAt     time.Time
}

// Store defines the persistence interface for tasks, threads, and conversation history.
type Store interface {
	// Task graph operations (scheduler.Store)
	Put(ctx context.Context, task *scheduler.Task) error
	List(ctx context.Context) ([]*scheduler.Task, error)
	Remove(ctx context.Context, taskIDs []string) error
	GetTask(ctx context.Context, taskID string) (*scheduler.Task, error)

	// Thread operations
	SaveThread(ctx context.Context, thread Thread) error
	GetThread(ctx context.Context, threadID string) (Thread, error)
	ThreadExists(ctx context.Context, threadID string) (bool, error)
	MarkThreadStarted(ctx context.Context, threadID string) error
	StartLoop(ctx context.Context, threadID string, cfg scheduler.LoopConfig) error
	ListLoops(ctx context.Context) ([]Thread, error)

	// Conversation history
	SaveMessage(ctx context.Context, conversation, role, content string) error
	GetHistory(ctx context.Context, conversation string) ([]ConversationTurn, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ scheduler.Store        = (*SQLiteStore)(nil)
	_ scheduler.ThreadLookup = (*SQLiteStore)(nil)
)

// modernc.org/sqlite applies _pragma parameters to each new connection.
const (
	memoryPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	filePragmas   = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&" + memoryPragmas
)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout
// on every pooled connection.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate&%s", dbPath, filePragmas)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named shared-cache database, so connections of one
// store see the same data while separate stores stay isolated.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:butler-%s?mode=memory&cache=shared&%s", uuid.NewString(), memoryPragmas)
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Two connections: one for writes, one for concurrent reads
	db.SetMaxOpenConns(2)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
