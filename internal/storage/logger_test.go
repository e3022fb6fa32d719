package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	ilog "cdpcapture/internal/logger"
)

func TestGormLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(ilog.NewWriter(&buf, zerolog.DebugLevel))
	sql := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), sql, errors.New("disk I/O error"))
	if !strings.Contains(buf.String(), "SQL执行错误") || !strings.Contains(buf.String(), "disk I/O error") {
		t.Errorf("error not logged: %s", buf.String())
	}

	buf.Reset()
	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Errorf("record-not-found should be quiet at warn level: %s", buf.String())
	}

	buf.Reset()
	l.Trace(ctx, time.Now().Add(-2*time.Second), sql, nil)
	if !strings.Contains(buf.String(), "慢SQL查询") {
		t.Errorf("slow query not logged: %s", buf.String())
	}

	buf.Reset()
	l.LogMode(logger.Silent).Trace(ctx, time.Now(), sql, errors.New("boom"))
	if buf.Len() != 0 {
		t.Errorf("silent mode logged: %s", buf.String())
	}
}

func TestGormLoggerFormatsMessages(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(ilog.NewWriter(&buf, zerolog.DebugLevel)).LogMode(logger.Info)
	l.Info(context.Background(), "migrated %d tables", 1)
	if !strings.Contains(buf.String(), "migrated 1 tables") {
		t.Errorf("message = %s", buf.String())
	}
}
