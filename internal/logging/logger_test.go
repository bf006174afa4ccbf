package logging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = "stderr"

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

// recordExporter keeps the body and severity of every exported record.
type recordExporter struct {
	mu      sync.Mutex
	records []exported
}

type exported struct {
	body     string
	severity otellog.Severity
}

func (e *recordExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, exported{body: r.Body().AsString(), severity: r.Severity()})
	}
	return nil
}

func (e *recordExporter) Shutdown(context.Context) error   { return nil }
func (e *recordExporter) ForceFlush(context.Context) error { return nil }

func (e *recordExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.records))
	for i, r := range e.records {
		out[i] = r.body
	}
	return out
}

func TestNewLogger_ExportsToOpenTelemetry(t *testing.T) {
	exp := &recordExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cfg := NewDefaultConfig()
	cfg.Output = "stderr"
	logger, err := NewLogger(cfg, provider)
	require.NoError(t, err)

	ctx := context.Background()
	logger.Debug(ctx, "below level")
	logger.Info(ctx, "store opened", zap.Int("documents", 3))
	logger.Error(ctx, "search failed")

	assert.Equal(t, []string{"store opened", "search failed"}, exp.bodies())
	exp.mu.Lock()
	assert.Equal(t, otellog.SeverityInfo, exp.records[0].severity)
	assert.Equal(t, otellog.SeverityError, exp.records[1].severity)
	exp.mu.Unlock()
}

func TestNewLogger_OTELDisabled(t *testing.T) {
	exp := &recordExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cfg := NewDefaultConfig()
	cfg.Output = "stderr"
	cfg.OTEL = false
	logger, err := NewLogger(cfg, provider)
	require.NoError(t, err)

	logger.Info(context.Background(), "stdio only")
	assert.Empty(t, exp.bodies())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "format must be")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, errMsg: "format must be"},
		{name: "bad output", mutate: func(c *Config) { c.Output = "file" }, errMsg: "output must be"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, errMsg: "sampling tick"},
		{name: "empty field value", mutate: func(c *Config) { c.Fields["env"] = "" }, errMsg: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := FromZap(zap.New(core))
	ctx := WithStage(WithRequestID(context.Background(), "req-1"), "embedding")

	logger.Trace(ctx, "trace message")
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message")

	logs := observed.All()
	require.Len(t, logs, 5)
	levels := []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range logs {
		assert.Equal(t, levels[i], entry.Level)
		assert.Equal(t, "req-1", entry.ContextMap()["request.id"])
		assert.Equal(t, "embedding", entry.ContextMap()["stage"])
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core)).Named("vectorstore").With(zap.String("collection", "docs"))

	logger.Info(context.Background(), "ready")

	logs := observed.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "vectorstore", logs[0].LoggerName)
	assert.Equal(t, "docs", logs[0].ContextMap()["collection"])
}

func TestContextFields_Trace(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	sampled := newSampledCore(core, SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 2, Thereafter: 0})
	logger := FromZap(zap.New(sampled))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Error(ctx, "failure")
		logger.Info(ctx, "chatter")
	}

	assert.Len(t, observed.FilterMessage("failure").All(), 20)
	assert.Len(t, observed.FilterMessage("chatter").All(), 2)
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Info(ctx, "chunks added", zap.Int("count", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "chunks added")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "chunks added")
	tl.AssertField(t, "chunks added", "count", int64(3))
	assert.Len(t, tl.FilterMessage("chunks").All(), 1)

	tl.Warn(WithStage(ctx, "embedding"), "embed retry")
	tl.AssertStage(t, "embed retry", "embedding")

	tl.Reset()
	assert.Empty(t, tl.All())
}
