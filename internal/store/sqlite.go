package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"whiteboard-backend/internal/codec"
	"whiteboard-backend/internal/event"
	"whiteboard-backend/internal/sqlitepool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS draw_events (
		board_id   TEXT    NOT NULL,
		sequence   INTEGER NOT NULL,
		user_id    TEXT    NOT NULL,
		kind       TEXT    NOT NULL,
		payload    BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (board_id, sequence)
	) WITHOUT ROWID;
	CREATE INDEX IF NOT EXISTS idx_draw_events_created ON draw_events(board_id, created_at);
`

// SQLiteConfig: Path is required
type SQLiteConfig struct {
	Path     string
	PoolSize int
	Logger   *slog.Logger
}

// SQLiteBackend stores one row per event. The event itself is kept as a
// deterministic CBOR payload; board, sequence, user and time are columns
// so ordered reads never decode more than they return.
type SQLiteBackend struct {
	pool *sqlitepool.Pool
}

func OpenSQLite(cfg SQLiteConfig) (*SQLiteBackend, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}
	return &SQLiteBackend{pool: pool}, nil
}

func (s *SQLiteBackend) Insert(ctx context.Context, rec Record) (err error) {
	payload, err := codec.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("event store: encode %s#%d: %w", rec.BoardID, rec.Sequence, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("event store: insert: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("event store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO draw_events (board_id, sequence, user_id, kind, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.BoardID,
				int64(rec.Sequence),
				rec.UserID,
				rec.Event.Kind.String(),
				payload,
				rec.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("event store: insert %s#%d: %w", rec.BoardID, rec.Sequence, err)
	}
	return nil
}

func (s *SQLiteBackend) OrderedSelect(ctx context.Context, boardID string) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("event store: select: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT sequence, user_id, payload, created_at
		 FROM draw_events
		 WHERE board_id = ?
		 ORDER BY sequence ASC`,
		&sqlitex.ExecOptions{
			Args: []any{boardID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec, err := scanRecord(boardID, stmt)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("event store: select %s: %w", boardID, err)
	}
	return records, nil
}

func scanRecord(boardID string, stmt *sqlite.Stmt) (Record, error) {
	payload := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, payload)

	var ev event.DrawEvent
	if err := codec.Unmarshal(payload, &ev); err != nil {
		return Record{}, fmt.Errorf("decode %s#%d: %w", boardID, stmt.ColumnInt64(0), err)
	}

	return Record{
		BoardID:   boardID,
		Sequence:  uint64(stmt.ColumnInt64(0)),
		UserID:    stmt.ColumnText(1),
		Event:     ev,
		CreatedAt: time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}, nil
}

func (s *SQLiteBackend) Close() error {
	return s.pool.Close()
}
