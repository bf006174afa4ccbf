package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

func (t *TestLogger) find(level zapcore.Level, snippet string) (observer.LoggedEntry, bool) {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, snippet) {
			return e, true
		}
	}
	return observer.LoggedEntry{}, false
}

// AssertLogged fails tb unless some entry at level contains snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if _, ok := t.find(level, snippet); !ok {
		tb.Errorf("no %v entry containing %q; got %d entries: %+v", level, snippet, t.observed.Len(), t.observed.All())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	if e, ok := t.find(level, snippet); ok {
		tb.Errorf("unexpected %v entry %q", level, e.Message)
	}
}

// AssertField fails tb unless an entry with message msg has key == want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertStage fails tb unless an entry with message msg was logged with
// the pipeline stage attached by WithStage.
func (t *TestLogger) AssertStage(tb testing.TB, msg, stage string) {
	tb.Helper()
	t.AssertField(tb, msg, "stage", stage)
}
