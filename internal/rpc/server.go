package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fyrsmithlabs/ragpipe/internal/embeddings"
	"github.com/fyrsmithlabs/ragpipe/internal/generation"
	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
	"github.com/fyrsmithlabs/ragpipe/internal/vectorstore"
)

const (
	defaultMaxMessageSize = 50 * 1024 * 1024
	defaultHealthInterval = 10 * time.Second
	maxHealthCheckTimeout = 5 * time.Second
)

// ServerConfig tunes a stage server.
type ServerConfig struct {
	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	// MaxMessageSize bounds request and response size in bytes.
	MaxMessageSize int
	// ShutdownTimeout bounds graceful shutdown before connections are cut.
	ShutdownTimeout time.Duration
	// HealthInterval is how often backends are checked while serving.
	// Zero means 10s; negative disables the checks.
	HealthInterval time.Duration
}

// Server hosts one or more stage services plus the standard health service.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	logger   *logging.Logger
	cfg      ServerConfig
	services []string
	checks   map[string]func(context.Context) error

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer builds a server with logging, recovery, rate limiting and
// error mapping interceptors.
func NewServer(cfg ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	logger = logger.Named("rpc")

	interceptors := []grpc.UnaryServerInterceptor{
		loggingInterceptor(logger),
		recoveryInterceptor(logger),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		interceptors = append(interceptors, rateLimitInterceptor(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	interceptors = append(interceptors, errorInterceptor)

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpc:   gs,
		health: hs,
		logger: logger,
		cfg:    cfg,
		checks: make(map[string]func(context.Context) error),
		stop:   make(chan struct{}),
	}
}

// RegisterEmbedding exposes p as ragpipe.EmbeddingService.
func (s *Server) RegisterEmbedding(p embeddings.Provider) {
	s.register(&embeddingServiceDesc, &embeddingService{provider: p})
}

// RegisterVector exposes store as ragpipe.VectorService. The service
// reports NOT_SERVING while the store cannot be counted.
func (s *Server) RegisterVector(store vectorstore.Store) {
	s.register(&vectorServiceDesc, &vectorService{store: store})
	s.checks[VectorServiceName] = func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	}
}

// RegisterGeneration exposes g as ragpipe.GenerationService. The service
// reports NOT_SERVING while g fails its ping.
func (s *Server) RegisterGeneration(g generation.Generator) {
	s.register(&generationServiceDesc, &generationService{gen: g})
	s.checks[GenerationServiceName] = g.Ping
}

func (s *Server) register(desc *grpc.ServiceDesc, impl any) {
	s.grpc.RegisterService(desc, impl)
	s.services = append(s.services, desc.ServiceName)
	s.health.SetServingStatus(desc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Serve marks every registered service as serving and blocks accepting
// connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, name := range s.services {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	s.logger.Info(context.Background(), "rpc server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("services", s.services),
	)
	if len(s.checks) > 0 && s.cfg.HealthInterval > 0 {
		go s.watchHealth()
	}
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return rag.Configf(rag.StageConfig, "listening on %s: %v", addr, err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.Shutdown()
		return <-errCh
	}
}

// watchHealth runs the backend checks every HealthInterval until Shutdown
// and mirrors their outcome in the health service.
func (s *Server) watchHealth() {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	serving := make(map[string]bool, len(s.checks))
	for name := range s.checks {
		serving[name] = true
	}
	for {
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(context.Background(), min(s.cfg.HealthInterval, maxHealthCheckTimeout))
			err := check(ctx)
			cancel()

			select {
			case <-s.stop:
				return
			default:
			}
			switch {
			case err != nil && serving[name]:
				s.logger.Warn(context.Background(), "backend check failed", zap.String("service", name), zap.Error(err))
				s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
			case err == nil && !serving[name]:
				s.logger.Info(context.Background(), "backend recovered", zap.String("service", name))
				s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
			}
			serving[name] = err == nil
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Shutdown reports NOT_SERVING, drains in-flight calls and stops. Calls
// still running after ShutdownTimeout are cancelled.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn(context.Background(), "graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

type embeddingService struct {
	provider embeddings.Provider
}

func (s *embeddingService) EmbedQuery(ctx context.Context, req *EmbedQueryRequest) (*EmbedQueryResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, rag.Inputf(rag.StageEmbedding, "query text is empty")
	}
	vec, err := s.provider.EmbedQuery(ctx, req.Text)
	if err != nil {
		return nil, err
	}
	return &EmbedQueryResponse{Embedding: vec}, nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, req *EmbedBatchRequest) (*EmbedBatchResponse, error) {
	if len(req.Texts) == 0 {
		return &EmbedBatchResponse{Embeddings: [][]float32{}}, nil
	}
	vecs, err := s.provider.EmbedDocuments(ctx, req.Texts)
	if err != nil {
		return nil, err
	}
	return &EmbedBatchResponse{Embeddings: vecs}, nil
}

func (s *embeddingService) Info(context.Context, *Empty) (*EmbeddingInfo, error) {
	return &EmbeddingInfo{Model: s.provider.Model(), Dimension: s.provider.Dimension()}, nil
}

type vectorService struct {
	store vectorstore.Store
}

func (s *vectorService) AddDocuments(ctx context.Context, req *AddDocumentsRequest) (*AddDocumentsResponse, error) {
	if err := s.store.AddDocuments(ctx, req.Texts, req.Embeddings, req.Metadatas); err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &AddDocumentsResponse{DocumentsAdded: len(req.Texts), TotalDocuments: total}, nil
}

func (s *vectorService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	matches, err := s.store.Search(ctx, req.QueryEmbedding, req.TopK)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []rag.Match{}
	}
	return &SearchResponse{Documents: matches}, nil
}

func (s *vectorService) Count(ctx context.Context, _ *Empty) (*CountResponse, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CountResponse{Count: n}, nil
}

func (s *vectorService) Reset(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.store.Reset(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *vectorService) Info(ctx context.Context, _ *Empty) (*VectorInfo, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &VectorInfo{Dimension: s.store.Dimension(), Count: n}, nil
}

type generationService struct {
	gen generation.Generator
}

func (s *generationService) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, rag.Inputf(rag.StageGeneration, "prompt is empty")
	}
	text, err := s.gen.Generate(ctx, req.Prompt, req.Temperature)
	if err != nil {
		return nil, err
	}
	return &GenerateResponse{Text: text}, nil
}

func (s *generationService) Info(context.Context, *Empty) (*GenerationInfo, error) {
	return &GenerationInfo{Model: s.gen.Model()}, nil
}
