package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// RequestLoggerUnaryServerInterceptor puts a logger annotated with the
// method and a request_id on the handler's context. The ID comes from the
// x-request-id header when the caller sends one.
func RequestLoggerUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			id = firstHeader(md, requestIDMetadataKey)
		}
		if id == "" {
			id = uuid.NewString()
		}

		reqLog := base.With(logging.String("method", info.FullMethod), logging.String("request_id", id))
		ctx = logging.ContextWithLogger(ctx, reqLog)

		start := time.Now()
		resp, err := handler(ctx, req)
		reqLog.Debug(ctx, "rpc handled",
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
