package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender hands every line to tb.Log so it shows under the test that produced it.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender logging through tb.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb}
}

func (a testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	line, err := formatLine(entry, fields)
	a.tb.Log(line)
	return err
}

func (a testAppender) Sync() error {
	return nil
}
