package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"
)

// writeRequest is one unit of work for the single writer goroutine. done is
// nil for fire-and-forget writes (progress updates).
type writeRequest struct {
	fn   func(ctx context.Context, db *sql.DB) error
	done chan error
}

// Store is the single-writer embedded sqlite store. Writes go through one
// serialized goroutine; reads use an independent *sql.DB handle plus an
// in-memory cache, so they are never blocked behind a write.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB

	writeCh chan writeRequest
	closeCh chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	tasks  map[string]*ExportTask
	states map[string]*TaskState
}

// Open creates/verifies the schema at path and starts the writer goroutine.
func Open(ctx context.Context, path string) (*Store, error) {
	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskstore: open write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("taskstore: open read db: %w", err)
	}

	s := &Store{
		writeDB: writeDB,
		readDB:  readDB,
		writeCh: make(chan writeRequest, 256),
		closeCh: make(chan struct{}),
		tasks:   make(map[string]*ExportTask),
		states:  make(map[string]*TaskState),
	}

	if err := bootstrapSchema(ctx, writeDB); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.loadFromDB(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.runWriter()
	return s, nil
}

func (s *Store) runWriter() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.writeCh:
			s.handleWrite(req)
		case <-s.closeCh:
			// Drain whatever was queued before the close.
			for {
				select {
				case req := <-s.writeCh:
					s.handleWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) handleWrite(req writeRequest) {
	err := req.fn(context.Background(), s.writeDB)
	if req.done != nil {
		req.done <- err
		close(req.done)
	} else if err != nil {
		slog.Error("taskstore.write_failed", "error", err)
	}
}

// Close drains pending writes, stops the writer, and closes both handles.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	_ = s.readDB.Close()
	return s.writeDB.Close()
}

// write submits fn to the writer goroutine and blocks for its result.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	done := make(chan error, 1)
	select {
	case s.writeCh <- writeRequest{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeAsync is fire-and-forget: it must never block the fetch/parse loop.
// A full queue drops the write with a log line rather than blocking the
// caller.
func (s *Store) writeAsync(fn func(ctx context.Context, db *sql.DB) error) {
	select {
	case s.writeCh <- writeRequest{fn: fn}:
	default:
		slog.Warn("taskstore.write_queue_full")
	}
}

func cloneTask(t *ExportTask) *ExportTask {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneState(st *TaskState) *TaskState {
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
