// Package rpc exposes the render queue over gRPC as
// dynshot.v1.ScreenshotService.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"dynshot/internal/domain"
	"dynshot/internal/infra/logging"
	"dynshot/internal/queue"
)

const serviceName = "dynshot.v1.ScreenshotService"

// ScreenshotServiceServer is the RPC surface for screenshot clients.
type ScreenshotServiceServer interface {
	ShotDynamic(context.Context, *ShotRequest) (*ShotResult, error)
	QueueStats(context.Context, *emptypb.Empty) (*QueueStatsResult, error)
}

// Submitter is the part of the queue the service needs.
type Submitter interface {
	Submit(ctx context.Context, id domain.Identifier) (domain.Result, error)
	Stats() queue.Stats
}

type Service struct {
	queue Submitter
}

func NewService(q Submitter) *Service {
	return &Service{queue: q}
}

func (s *Service) ShotDynamic(ctx context.Context, req *ShotRequest) (*ShotResult, error) {
	if req == nil || req.DynamicID == "" {
		return nil, status.Error(codes.InvalidArgument, domain.ErrEmptyIdentifier.Error())
	}
	res, err := s.queue.Submit(ctx, domain.Identifier(req.DynamicID))
	if err != nil {
		return nil, toStatus(err)
	}
	out := &ShotResult{
		PNGImage: res.Image,
		Code:     string(res.Code),
		Message:  res.Message,
	}
	if !res.OK() {
		out.PNGImage = []byte{}
		out.Retryable = domain.Retryable(res.Code)
	}
	return out, nil
}

func (s *Service) QueueStats(ctx context.Context, _ *emptypb.Empty) (*QueueStatsResult, error) {
	st := s.queue.Stats()
	return &QueueStatsResult{
		Pending:   st.Pending,
		MaxDepth:  st.MaxDepth,
		Running:   st.Running,
		Current:   st.Current,
		Processed: st.Processed,
		Rejected:  st.Rejected,
		Closed:    st.Closed,
	}, nil
}

// toStatus maps admission and caller errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Server is the gRPC listener with the screenshot and health services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer registers svc and the standard health service.
func NewServer(svc ScreenshotServiceServer) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoveryInterceptor, loggingInterceptor),
	)
	RegisterScreenshotServiceServer(gs, svc)

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, health: hs}
}

// Serve blocks until the listener fails or the server stops.
func (s *Server) Serve(lis net.Listener) error {
	logging.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Shutdown marks the service not serving and waits for in-flight calls
// until ctx ends, then stops hard.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("gRPC graceful stop timed out, forcing")
		s.grpc.Stop()
		<-done
	}
}

// --- Manual service descriptor plumbing ---

// RegisterScreenshotServiceServer registers service handlers.
func RegisterScreenshotServiceServer(s grpc.ServiceRegistrar, srv ScreenshotServiceServer) {
	s.RegisterService(&_ScreenshotService_serviceDesc, srv)
}

func _ScreenshotService_ShotDynamic_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ShotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScreenshotServiceServer).ShotDynamic(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/ShotDynamic",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScreenshotServiceServer).ShotDynamic(ctx, req.(*ShotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ScreenshotService_QueueStats_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScreenshotServiceServer).QueueStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/QueueStats",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScreenshotServiceServer).QueueStats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var _ScreenshotService_serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ScreenshotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ShotDynamic",
			Handler:    _ScreenshotService_ShotDynamic_Handler,
		},
		{
			MethodName: "QueueStats",
			Handler:    _ScreenshotService_QueueStats_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dynshot_screenshot",
}
