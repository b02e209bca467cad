package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

var errDuplicate = errors.New("UNIQUE constraint failed: processed_events.key")

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestGormTraceLevels(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 10 * time.Millisecond,
		Expected:      func(err error) bool { return errors.Is(err, errDuplicate) },
	})
	ctx := context.Background()
	query := func() (string, int64) { return `UPDATE "queue_items" SET status = 'processing'`, 1 }

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), query, errDuplicate)
	l.Trace(ctx, time.Now(), query, errors.New("connection reset"))
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "queue_items", entries[2].ContextMap()["table"])
	assert.Equal(t, "UPDATE", entries[2].ContextMap()["operation"])
}

func TestGormSilentLogsNothing(t *testing.T) {
	logs := observeGlobal(t)
	l := NewGormLogger(DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	l.Error(context.Background(), "boom")
	assert.Zero(t, logs.Len())
}
