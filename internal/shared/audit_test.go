package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestAuditRecordFillsDefaults(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	err := logger.Record(context.Background(), AuditLog{Action: "product.create", Entity: "product", EntityID: "4"})
	require.NoError(t, err)
	require.Contains(t, db.sql, "audit_logs")
	require.Equal(t, SystemActor, db.args[0])
	require.Nil(t, db.args[4])
	require.Equal(t, fixed, db.args[5])
}

func TestAuditRecordEncodesMeta(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		Actor: "pharmacist-2", Action: "stock.receive", Entity: "inventory", EntityID: "9",
		Meta: map[string]any{"qty": 12},
	})
	require.NoError(t, err)
	require.Equal(t, "pharmacist-2", db.args[0])
	require.JSONEq(t, `{"qty":12}`, string(db.args[4].([]byte)))
}

func TestAuditRecordRejectsIncompleteLog(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{Action: "x"})
	require.Error(t, err)
	require.Empty(t, db.sql)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}

func TestAuditRecordWrapsExecError(t *testing.T) {
	boom := errors.New("connection reset")
	err := NewAuditLogger(&recordingExecer{err: boom}).Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"})
	require.ErrorIs(t, err, boom)
}
