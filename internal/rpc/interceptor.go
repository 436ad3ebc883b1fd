package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dynshot/internal/infra/logging"
)

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	requestID := xid.New().String()
	start := time.Now()
	resp, err := handler(ctx, req)
	kv := []any{
		"method", info.FullMethod,
		"request_id", requestID,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if r, ok := req.(*ShotRequest); ok {
		kv = append(kv, "dynamic_id", r.DynamicID)
	}
	if err != nil {
		logging.Warn("rpc failed", append(kv, "error", err)...)
	} else {
		logging.Info("rpc handled", kv...)
	}
	return resp, err
}

func recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("rpc handler panicked", "method", info.FullMethod, "panic", fmt.Sprint(r))
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
