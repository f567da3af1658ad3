package metrics

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Recorder receives per-call measurements from the interceptor
type Recorder interface {
	RecordRequest(method string)
	RecordDuration(method string, durationSeconds float64)
	RecordError(method, code string)
}

// reflectionPrefix marks server reflection calls, which are not counted
const reflectionPrefix = "/grpc.reflection."

// UnaryServerInterceptor records request, latency and status code metrics for every
// unary call into the collector and, when non-nil, the Prometheus exporter.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	recorders := []Recorder{collector}
	if exporter != nil {
		recorders = append(recorders, exporter)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, reflectionPrefix) {
			return handler(ctx, req)
		}

		start := time.Now()
		for _, r := range recorders {
			r.RecordRequest(info.FullMethod)
		}

		resp, err := handler(ctx, req)

		elapsed := time.Since(start).Seconds()
		code := status.Code(err).String()
		for _, r := range recorders {
			r.RecordDuration(info.FullMethod, elapsed)
			if err != nil {
				r.RecordError(info.FullMethod, code)
			}
		}
		return resp, err
	}
}
