package logging

import (
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore writes to the configured stdio stream and, when a provider is
// given and cfg.OTEL is set, to OpenTelemetry logs as well.
func newCore(cfg *Config, otelProvider log.LoggerProvider) zapcore.Core {
	sink := os.Stdout
	if cfg.Output == "stderr" {
		sink = os.Stderr
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.AddSync(sink), cfg.Level)

	if cfg.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("ragpipe", otelzap.WithLoggerProvider(otelProvider))
		core = zapcore.NewTee(core, &levelFilterCore{Core: otelCore, level: cfg.Level})
	}
	return newSampledCore(core, cfg.Sampling)
}

// levelFilterCore drops entries below level. The bridge core itself
// accepts every level its provider does.
type levelFilterCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), level: c.level}
}
