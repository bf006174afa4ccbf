// Package generation turns a prompt into text through an Ollama server or an
// OpenAI-compatible chat API.
package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const (
	// DefaultTemperature replaces non-positive temperatures.
	DefaultTemperature = 0.7

	// DefaultTimeout bounds one generation call.
	DefaultTimeout = 120 * time.Second

	// pingTimeout bounds one reachability check.
	pingTimeout = 5 * time.Second
)

// Provider names.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var tracer = otel.Tracer("ragpipe.generation")

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	// Ping checks that the backend is reachable and serves the model.
	Ping(ctx context.Context) error
	Model() string
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New creates the generator named by cfg.Provider, wrapped by Bound.
func New(cfg Config, logger *logging.Logger) (*Bounded, error) {
	if cfg.Model == "" {
		return nil, rag.Configf(rag.StageGeneration, "generation model is required")
	}
	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case ProviderOllama, "":
		g, err = NewOllamaGenerator(cfg.BaseURL, cfg.Model)
	case ProviderOpenAI:
		g, err = NewOpenAIGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, rag.Configf(rag.StageGeneration, "unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Bound(g, cfg.Timeout, logger), nil
}

// Bounded applies the default temperature and a per-call timeout, and
// reports every failure as a *rag.Error for StageGeneration.
type Bounded struct {
	Generator
	timeout time.Duration
	logger  *logging.Logger
}

// Bound wraps g. A non-positive timeout means DefaultTimeout.
func Bound(g Generator, timeout time.Duration, logger *logging.Logger) *Bounded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bounded{Generator: g, timeout: timeout, logger: logger.Named("generation")}
}

// Timeout returns the per-call bound.
func (b *Bounded) Timeout() time.Duration { return b.timeout }

func (b *Bounded) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	ctx, span := tracer.Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", b.Model()),
		attribute.Float64("temperature", temperature),
		attribute.Int("prompt_length", len(prompt)),
	)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	text, err := b.Generator.Generate(ctx, prompt, temperature)
	if err != nil {
		// Some clients surface an expired deadline as a transport error.
		if ctx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.Warn(ctx, "generation failed",
			zap.String("model", b.Model()), zap.Duration("took", time.Since(start)), zap.Error(err))
		return "", rag.Classify(rag.StageGeneration, "generate", err)
	}

	b.logger.Debug(ctx, "generated answer",
		zap.String("model", b.Model()),
		zap.Int("length", len(text)),
		zap.Duration("took", time.Since(start)))
	return text, nil
}

func (b *Bounded) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, min(b.timeout, pingTimeout))
	defer cancel()
	if err := b.Generator.Ping(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		b.logger.Debug(ctx, "generation backend ping failed", zap.String("model", b.Model()), zap.Error(err))
		return rag.Classify(rag.StageGeneration, "ping", err)
	}
	return nil
}
