package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/nfse-extractor/internal/common"
	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
)

const (
	ExtractionServiceName = "nfse.v1.Extraction"
	ExtractMethod         = "/" + ExtractionServiceName + "/Extract"

	requestIDHeader = "x-request-id"
)

// ExtractionServer is the server API for the nfse.v1.Extraction service.
type ExtractionServer interface {
	Extract(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
}

var extractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExtractionServiceName,
	HandlerType: (*ExtractionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nfse/v1/extraction.proto",
}

func extractHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExtractMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterExtractionServer registers srv on s.
func RegisterExtractionServer(s grpc.ServiceRegistrar, srv ExtractionServer) {
	s.RegisterService(&extractionServiceDesc, srv)
}

// ExtractionService adapts the processor to the gRPC API.
type ExtractionService struct {
	extractor Extractor
	logger    *slog.Logger
}

func NewExtractionService(extractor Extractor, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{extractor: extractor, logger: logger}
}

func (s *ExtractionService) Extract(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if len(in.GetValue()) == 0 {
		return nil, common.InvalidArgumentError("document is empty")
	}
	res, err := s.extractor.Extract(ctx, in.GetValue())
	if err != nil {
		return nil, common.GRPCStatus(err)
	}
	out, err := RecordToStruct(res.Record)
	if err != nil {
		s.logger.ErrorContext(ctx, "grpc.encode_failed", "error", err)
		return nil, common.InternalError("encode record")
	}
	return out, nil
}

// RecordToStruct converts a record to its JSON object form.
func RecordToStruct(rec entity.NFSe) (*structpb.Struct, error) {
	rec.Normalize()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToRecord is the inverse of RecordToStruct.
func StructToRecord(s *structpb.Struct) (entity.NFSe, error) {
	var rec entity.NFSe
	raw, err := s.MarshalJSON()
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}
	rec.Normalize()
	return rec, nil
}

// ExtractRemote calls nfse.v1.Extraction/Extract over cc.
func ExtractRemote(ctx context.Context, cc grpc.ClientConnInterface, doc []byte, opts ...grpc.CallOption) (entity.NFSe, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, ExtractMethod, wrapperspb.Bytes(doc), out, opts...); err != nil {
		return entity.NFSe{}, err
	}
	return StructToRecord(out)
}

// UnaryInterceptor attaches a request id from the x-request-id metadata key
// (or a new one), logs each call and recovers from panics.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(requestIDHeader); len(ids) > 0 && ids[0] != "" {
				ctx = common.WithRequestID(ctx, ids[0])
			}
		}
		ctx, id := common.EnsureRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))

		start := time.Now()
		logger.InfoContext(ctx, "grpc.request.start", "method", info.FullMethod)
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorContext(ctx, "grpc.request.panic", "panic", fmt.Sprint(p))
				err = status.Error(codes.Internal, "internal error")
			}
			logger.InfoContext(ctx, "grpc.request.end",
				"method", info.FullMethod,
				"code", status.Code(err).String(),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		}()
		return handler(ctx, req)
	}
}

// NewGRPCServer builds a server exposing the extraction service and the
// standard health service, already marked SERVING.
func NewGRPCServer(extractor Extractor, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryInterceptor(logger)))
	RegisterExtractionServer(srv, NewExtractionService(extractor, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ExtractionServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return srv, healthServer
}
