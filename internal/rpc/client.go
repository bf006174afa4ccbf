package rpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// ClientConfig tunes one stage client.
type ClientConfig struct {
	// Timeout bounds every attempt.
	Timeout time.Duration
	// MaxAttempts bounds retried reads. Writes are attempted once.
	MaxAttempts    int
	InitialBackoff time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Dial opens a plaintext client connection to a stage service. The
// connection is lazy: an unreachable address surfaces on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
			grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, rag.Configf(rag.StageConfig, "dialing %s: %v", addr, err)
	}
	return conn, nil
}

// caller runs unary calls for one service with a per-attempt timeout,
// a circuit breaker and, for reads, retries on Unavailable.
type caller struct {
	conn    *grpc.ClientConn
	service string
	stage   rag.Stage
	cfg     ClientConfig
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

func newCaller(conn *grpc.ClientConn, service string, stage rag.Stage, cfg ClientConfig, logger *logging.Logger) *caller {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &caller{conn: conn, service: service, stage: stage, cfg: cfg, logger: logger.Named("rpc-client")}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			BreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn(context.Background(), "circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: countsAsSuccess,
	})
	return c
}

// countsAsSuccess keeps caller mistakes from tripping the breaker.
func countsAsSuccess(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return false
	}
	return true
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *caller) invoke(ctx context.Context, method string, req, resp any, retry bool) error {
	ctx = outgoingRequestID(ctx)
	op := method[strings.LastIndex(method, "/")+1:]

	attempts := 1
	if retry {
		attempts = c.cfg.MaxAttempts
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			ClientRetries.WithLabelValues(method).Inc()
			c.logger.Debug(ctx, "retrying rpc", zap.String("method", method), zap.Int("attempt", attempt))
		}
		err := c.once(ctx, method, req, resp)
		if err != nil && status.Code(err) == codes.Unavailable && !isBreakerRejection(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))

	switch {
	case err == nil:
		return nil
	case isBreakerRejection(err):
		return &rag.Error{
			Kind:  rag.KindBackendUnavailable,
			Stage: c.stage,
			Cause: rag.CauseUnreachable,
			Op:    op,
			Err:   err,
		}
	default:
		return fromStatus(c.stage, op, err)
	}
}

func (c *caller) once(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.conn.Invoke(ctx, method, req, resp, callJSON)
	})
	return err
}

// health asks the standard health service whether the stage service is serving.
func (c *caller) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		return fromStatus(c.stage, "health", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return rag.Unavailable(c.stage, "health", errors.New(resp.GetStatus().String()))
	}
	return nil
}

func (c *caller) close() error { return c.conn.Close() }

// EmbeddingClient calls ragpipe.EmbeddingService.
type EmbeddingClient struct {
	c *caller
}

func NewEmbeddingClient(conn *grpc.ClientConn, cfg ClientConfig, logger *logging.Logger) *EmbeddingClient {
	return &EmbeddingClient{c: newCaller(conn, EmbeddingServiceName, rag.StageEmbedding, cfg, logger)}
}

func (e *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var resp EmbedQueryResponse
	if err := e.c.invoke(ctx, methodEmbedQuery, &EmbedQueryRequest{Text: text}, &resp, true); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// EmbedDocuments is not retried.
func (e *EmbeddingClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	var resp EmbedBatchResponse
	if err := e.c.invoke(ctx, methodEmbedBatch, &EmbedBatchRequest{Texts: texts}, &resp, false); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, rag.Unavailable(rag.StageEmbedding, "EmbedBatch",
			errors.New("embedding service returned a different number of vectors than texts"))
	}
	return resp.Embeddings, nil
}

func (e *EmbeddingClient) Info(ctx context.Context) (EmbeddingInfo, error) {
	var resp EmbeddingInfo
	err := e.c.invoke(ctx, methodEmbeddingInfo, &Empty{}, &resp, true)
	return resp, err
}

func (e *EmbeddingClient) Health(ctx context.Context) error { return e.c.health(ctx) }

func (e *EmbeddingClient) Close() error { return e.c.close() }

// VectorClient calls ragpipe.VectorService.
type VectorClient struct {
	c *caller
}

func NewVectorClient(conn *grpc.ClientConn, cfg ClientConfig, logger *logging.Logger) *VectorClient {
	return &VectorClient{c: newCaller(conn, VectorServiceName, rag.StageRetrieval, cfg, logger)}
}

// AddDocuments is not retried. It returns the number added and the new total.
func (v *VectorClient) AddDocuments(ctx context.Context, texts []string, embeddings [][]float32, metadatas []map[string]string) (int, int, error) {
	var resp AddDocumentsResponse
	req := &AddDocumentsRequest{Texts: texts, Embeddings: embeddings, Metadatas: metadatas}
	if err := v.c.invoke(ctx, methodAddDocuments, req, &resp, false); err != nil {
		return 0, 0, err
	}
	return resp.DocumentsAdded, resp.TotalDocuments, nil
}

func (v *VectorClient) Search(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	var resp SearchResponse
	if err := v.c.invoke(ctx, methodSearch, &SearchRequest{QueryEmbedding: embedding, TopK: k}, &resp, true); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

func (v *VectorClient) Count(ctx context.Context) (int, error) {
	var resp CountResponse
	if err := v.c.invoke(ctx, methodCount, &Empty{}, &resp, true); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Reset is not retried.
func (v *VectorClient) Reset(ctx context.Context) error {
	return v.c.invoke(ctx, methodReset, &Empty{}, &Empty{}, false)
}

func (v *VectorClient) Info(ctx context.Context) (VectorInfo, error) {
	var resp VectorInfo
	err := v.c.invoke(ctx, methodVectorInfo, &Empty{}, &resp, true)
	return resp, err
}

func (v *VectorClient) Health(ctx context.Context) error { return v.c.health(ctx) }

func (v *VectorClient) Close() error { return v.c.close() }

// GenerationClient calls ragpipe.GenerationService.
type GenerationClient struct {
	c *caller
}

func NewGenerationClient(conn *grpc.ClientConn, cfg ClientConfig, logger *logging.Logger) *GenerationClient {
	return &GenerationClient{c: newCaller(conn, GenerationServiceName, rag.StageGeneration, cfg, logger)}
}

// Generate is not retried.
func (g *GenerationClient) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	var resp GenerateResponse
	if err := g.c.invoke(ctx, methodGenerate, &GenerateRequest{Prompt: prompt, Temperature: temperature}, &resp, false); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (g *GenerationClient) Info(ctx context.Context) (GenerationInfo, error) {
	var resp GenerationInfo
	err := g.c.invoke(ctx, methodGenerationInfo, &Empty{}, &resp, true)
	return resp, err
}

func (g *GenerationClient) Health(ctx context.Context) error { return g.c.health(ctx) }

func (g *GenerationClient) Close() error { return g.c.close() }
