package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	execArgs  []any
	execErr   error
	queryArgs []any
	rows      [][]any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queryArgs = args
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos], nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	if len(row) != len(dest) {
		return fmt.Errorf("want %d columns, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		case **string:
			if row[i] == nil {
				*p = nil
			} else {
				s := row[i].(string)
				*p = &s
			}
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

var ringAt = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

func newRepo(db *fakeDB) *HistoryRepository {
	return NewHistoryRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHistoryRepository_RecordMapsEmptyFieldsToNull(t *testing.T) {
	db := &fakeDB{}
	repo := newRepo(db)

	require.NoError(t, repo.Record(context.Background(), shared.NewAlarmRingEvent("a1", "Deep Horn", "builtin/deep_horn", "", ringAt)))

	require.Len(t, db.execArgs, 8)
	assert.Equal(t, "alarm_ring", db.execArgs[0])
	assert.Equal(t, "a1", db.execArgs[1])
	assert.Nil(t, db.execArgs[2])
	assert.Equal(t, "Deep Horn", db.execArgs[3])
	assert.Equal(t, "builtin/deep_horn", db.execArgs[4])
	assert.Nil(t, db.execArgs[5])
	assert.Equal(t, ringAt, db.execArgs[7])
}

func TestHistoryRepository_HandleEventWrapsErrors(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset")}
	repo := newRepo(db)

	err := repo.HandleEvent(shared.NewTaskReminderEvent("t1", "Standup", ringAt))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_reminder")
	assert.ErrorIs(t, err, db.execErr)
}

func TestHistoryRepository_RecentScansRows(t *testing.T) {
	recorded := ringAt.Add(time.Second)
	db := &fakeDB{rows: [][]any{
		{int64(2), "task_reminder", nil, "t1", nil, nil, nil, "Standup", ringAt, recorded},
		{int64(1), "alarm_ring", "a1", nil, "Classic Beep", "builtin/classic_beep", "wake", nil, ringAt, recorded},
	}}
	repo := newRepo(db)

	firings, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []any{history.DefaultLimit}, db.queryArgs)

	require.Len(t, firings, 2)
	assert.Equal(t, shared.EventTaskReminder, firings[0].Kind)
	assert.Equal(t, "t1", firings[0].TaskID)
	assert.Empty(t, firings[0].AlarmID)
	assert.Equal(t, "wake", firings[1].Label)
	assert.Equal(t, "builtin/classic_beep", firings[1].SoundRef)
}

func TestHistoryRepository_RecentClampsLimit(t *testing.T) {
	db := &fakeDB{}
	repo := newRepo(db)

	_, err := repo.Recent(context.Background(), 10_000)
	require.NoError(t, err)
	assert.Equal(t, []any{history.MaxLimit}, db.queryArgs)
}

func TestMigrations_AppendOnly(t *testing.T) {
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.version)
		assert.NotEmpty(t, m.name)
		assert.Contains(t, m.sql, "CREATE")
	}
}

func TestPending(t *testing.T) {
	all := []migration{{version: 1}, {version: 2}, {version: 3}}
	assert.Equal(t, all, pending(all, nil))
	assert.Equal(t, []migration{{version: 2}}, pending(all, []int{1, 3}))
	assert.Empty(t, pending(all, []int{3, 2, 1}))
}
