package shared

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	sql  string
	args []any
}

func (c *captureExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.sql, c.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditRecordDefaultsTimestampAndMeta(t *testing.T) {
	exec := &captureExec{}
	logger := NewAuditLogger(exec)
	at := time.Date(2024, 6, 5, 9, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	logger.now = func() time.Time { return at }

	err := logger.Record(context.Background(), AuditLog{ActorID: 3, Action: "confirm", Entity: "inbound_slip", EntityID: "12"})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO audit_logs")
	require.Equal(t, int64(3), exec.args[0])
	require.Equal(t, []byte(`{}`), exec.args[4])
	require.Equal(t, at.UTC(), exec.args[5])
}

func TestAuditRecordRejectsIncompleteEntries(t *testing.T) {
	exec := &captureExec{}
	err := NewAuditLogger(exec).Record(context.Background(), AuditLog{Action: "confirm", Entity: "inbound_slip"})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, exec.sql)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
