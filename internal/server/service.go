package server

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/good-yellow-bee/lynx/internal/ingest"
)

// AgentKeyMetadata is the metadata key carrying the agent key.
const AgentKeyMetadata = "x-agent-key"

const (
	serviceName         = "lynx.v1.IngestService"
	methodReportMetrics = "/" + serviceName + "/ReportMetrics"
	methodReportDisk    = "/" + serviceName + "/ReportDisk"
)

// ReportResponse acknowledges an accepted message.
type ReportResponse struct {
	Accepted   bool `json:"accepted"`
	Triggered  int  `json:"triggered"`
	Suppressed int  `json:"suppressed"`
}

// IngestServer is the agent-facing ingestion service.
type IngestServer interface {
	ReportMetrics(ctx context.Context, req *ingest.MetricsMessage) (*ReportResponse, error)
	ReportDisk(ctx context.Context, req *ingest.DiskMessage) (*ReportResponse, error)
}

// serviceDesc is written by hand; messages are plain structs encoded by
// the JSON codec.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportMetrics", Handler: reportMetricsHandler},
		{MethodName: "ReportDisk", Handler: reportDiskHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lynx/v1/ingest",
}

func reportMetricsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ingest.MetricsMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).ReportMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReportMetrics}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).ReportMetrics(ctx, req.(*ingest.MetricsMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func reportDiskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ingest.DiskMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).ReportDisk(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReportDisk}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).ReportDisk(ctx, req.(*ingest.DiskMessage))
	}
	return interceptor(ctx, in, info, handler)
}

// Handler implements IngestServer on top of the ingestion service.
type Handler struct {
	service *ingest.Service
	verbose bool
}

// NewHandler creates a new gRPC handler.
func NewHandler(service *ingest.Service, verbose bool) *Handler {
	return &Handler{service: service, verbose: verbose}
}

// ReportMetrics stores a snapshot and evaluates alert rules.
func (h *Handler) ReportMetrics(ctx context.Context, req *ingest.MetricsMessage) (*ReportResponse, error) {
	res, err := h.service.IngestMetrics(ctx, ingest.TransportGRPC, agentKey(ctx), req)
	if err != nil {
		return nil, h.toStatus(req.SystemID, err)
	}
	return &ReportResponse{Accepted: true, Triggered: res.Triggered, Suppressed: res.Suppressed}, nil
}

// ReportDisk stores a disk sample and evaluates disk rules.
func (h *Handler) ReportDisk(ctx context.Context, req *ingest.DiskMessage) (*ReportResponse, error) {
	res, err := h.service.IngestDisk(ctx, ingest.TransportGRPC, agentKey(ctx), req)
	if err != nil {
		return nil, h.toStatus(req.SystemID, err)
	}
	return &ReportResponse{Accepted: true, Triggered: res.Triggered, Suppressed: res.Suppressed}, nil
}

func agentKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(AgentKeyMetadata); len(values) > 0 {
		return values[0]
	}
	return ""
}

func (h *Handler) toStatus(systemID string, err error) error {
	switch {
	case errors.Is(err, ingest.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ingest.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ingest.ErrInactive):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ingest.ErrUnknownSystem):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		log.Printf("ingest failed: system=%s error=%v", systemID, err)
		return status.Error(codes.Internal, "ingest failed")
	}
}
