package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Service names as they appear in full method paths and health checks.
const (
	EmbeddingServiceName  = "ragpipe.EmbeddingService"
	VectorServiceName     = "ragpipe.VectorService"
	GenerationServiceName = "ragpipe.GenerationService"
)

// Full method names.
const (
	methodEmbedQuery     = "/" + EmbeddingServiceName + "/EmbedQuery"
	methodEmbedBatch     = "/" + EmbeddingServiceName + "/EmbedBatch"
	methodEmbeddingInfo  = "/" + EmbeddingServiceName + "/Info"
	methodAddDocuments   = "/" + VectorServiceName + "/AddDocuments"
	methodSearch         = "/" + VectorServiceName + "/Search"
	methodCount          = "/" + VectorServiceName + "/Count"
	methodReset          = "/" + VectorServiceName + "/Reset"
	methodVectorInfo     = "/" + VectorServiceName + "/Info"
	methodGenerate       = "/" + GenerationServiceName + "/Generate"
	methodGenerationInfo = "/" + GenerationServiceName + "/Info"
)

// EmbeddingServer is the server API of the embedding service.
type EmbeddingServer interface {
	EmbedQuery(context.Context, *EmbedQueryRequest) (*EmbedQueryResponse, error)
	EmbedBatch(context.Context, *EmbedBatchRequest) (*EmbedBatchResponse, error)
	Info(context.Context, *Empty) (*EmbeddingInfo, error)
}

// VectorServer is the server API of the vector store service.
type VectorServer interface {
	AddDocuments(context.Context, *AddDocumentsRequest) (*AddDocumentsResponse, error)
	Search(context.Context, *SearchRequest) (*SearchResponse, error)
	Count(context.Context, *Empty) (*CountResponse, error)
	Reset(context.Context, *Empty) (*Empty, error)
	Info(context.Context, *Empty) (*VectorInfo, error)
}

// GenerationServer is the server API of the generation service.
type GenerationServer interface {
	Generate(context.Context, *GenerateRequest) (*GenerateResponse, error)
	Info(context.Context, *Empty) (*GenerationInfo, error)
}

// unary builds a method descriptor from a method expression such as
// EmbeddingServer.EmbedQuery.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var embeddingServiceDesc = grpc.ServiceDesc{
	ServiceName: EmbeddingServiceName,
	HandlerType: (*EmbeddingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(EmbeddingServiceName, "EmbedQuery", EmbeddingServer.EmbedQuery),
		unary(EmbeddingServiceName, "EmbedBatch", EmbeddingServer.EmbedBatch),
		unary(EmbeddingServiceName, "Info", EmbeddingServer.Info),
	},
	Metadata: "ragpipe/embedding",
}

var vectorServiceDesc = grpc.ServiceDesc{
	ServiceName: VectorServiceName,
	HandlerType: (*VectorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(VectorServiceName, "AddDocuments", VectorServer.AddDocuments),
		unary(VectorServiceName, "Search", VectorServer.Search),
		unary(VectorServiceName, "Count", VectorServer.Count),
		unary(VectorServiceName, "Reset", VectorServer.Reset),
		unary(VectorServiceName, "Info", VectorServer.Info),
	},
	Metadata: "ragpipe/vector",
}

var generationServiceDesc = grpc.ServiceDesc{
	ServiceName: GenerationServiceName,
	HandlerType: (*GenerationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(GenerationServiceName, "Generate", GenerationServer.Generate),
		unary(GenerationServiceName, "Info", GenerationServer.Info),
	},
	Metadata: "ragpipe/generation",
}
