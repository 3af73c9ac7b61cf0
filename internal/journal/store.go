package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/framework/plugin"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/leeforge/community-processor/community/shared"
)

// Entry statuses.
const (
	StatusApplied = "applied"
	StatusFailed  = "failed"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Entry is one recorded membership decision.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      uuid.UUID `json:"runId"`
	MemberID   int64     `json:"memberId"`
	Community  string    `json:"community,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Op         string    `json:"op"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store persists journal entries in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS membership_journal (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	member_id   INTEGER NOT NULL,
	community   TEXT    NOT NULL DEFAULT '',
	group_id    TEXT    NOT NULL DEFAULT '',
	op          TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_membership_journal_member
	ON membership_journal (member_id, id DESC);
`

// Open opens the SQLite database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record appends an entry and returns it with its id and timestamp set.
func (s *Store) Record(ctx context.Context, e Entry) (*Entry, error) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = s.now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO membership_journal
			(run_id, member_id, community, group_id, op, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID.String(), e.MemberID, e.Community, e.GroupID, e.Op, e.Status, e.Error, e.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("journal entry id: %w", err)
	}
	return &e, nil
}

// ListByMember returns the most recent entries of a member, newest first.
func (s *Store) ListByMember(ctx context.Context, memberID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, member_id, community, group_id, op, status, error, recorded_at
		FROM membership_journal
		WHERE member_id = ?
		ORDER BY id DESC
		LIMIT ?`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e     Entry
			runID string
		)
		if err := rows.Scan(&e.ID, &runID, &e.MemberID, &e.Community, &e.GroupID,
			&e.Op, &e.Status, &e.Error, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("journal entry %d run id: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}

// Subscribe records every membership event published on bus.
func (s *Store) Subscribe(bus plugin.EventBus, logger *zap.Logger) []plugin.Subscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(status string) plugin.EventHandler {
		return func(ctx context.Context, e plugin.Event) error {
			data, ok := e.Data.(shared.MembershipEventData)
			if !ok {
				return nil
			}
			_, err := s.Record(ctx, Entry{
				RunID:     data.RunID,
				MemberID:  data.MemberID,
				Community: data.Community,
				GroupID:   data.GroupID,
				Op:        data.Op,
				Status:    status,
				Error:     data.Error,
			})
			if err != nil {
				logger.Error("journal write failed",
					zap.String("event", e.Name),
					zap.Int64("memberID", data.MemberID),
					zap.Error(err),
				)
			}
			return nil
		}
	}

	return []plugin.Subscription{
		bus.Subscribe(shared.EventMembershipAdded, handler(StatusApplied)),
		bus.Subscribe(shared.EventMembershipRemoved, handler(StatusApplied)),
		bus.Subscribe(shared.EventMembershipFailed, handler(StatusFailed)),
	}
}
