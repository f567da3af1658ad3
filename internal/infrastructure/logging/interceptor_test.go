package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestUnaryServerInterceptor(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/provgraph.v1.Lineage/GetEntityLineage"}

	t.Run("generates a request id", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		interceptor := UnaryServerInterceptor(zap.New(core))

		var seen string
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			seen = RequestID(ctx)
			return "ok", nil
		}

		resp, err := interceptor(context.Background(), "req", info, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
		assert.Len(t, seen, 36)

		entries := logs.All()
		require.Len(t, entries, 1)
		assert.Equal(t, "request completed", entries[0].Message)
		assert.Equal(t, seen, entries[0].ContextMap()["request_id"])
	})

	t.Run("reuses the caller's request id", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		interceptor := UnaryServerInterceptor(zap.New(core))

		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDHeader, "req-42"))
		var seen string
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			seen = RequestID(ctx)
			return nil, nil
		}

		_, err := interceptor(ctx, "req", info, handler)
		require.NoError(t, err)
		assert.Equal(t, "req-42", seen)
	})

	t.Run("log level follows the status code", func(t *testing.T) {
		tests := []struct {
			code  codes.Code
			level zapcore.Level
		}{
			{codes.InvalidArgument, zapcore.InfoLevel},
			{codes.FailedPrecondition, zapcore.InfoLevel},
			{codes.Internal, zapcore.ErrorLevel},
		}
		for _, tt := range tests {
			core, logs := observer.New(zapcore.DebugLevel)
			interceptor := UnaryServerInterceptor(zap.New(core))
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return nil, status.Error(tt.code, "boom")
			}

			_, err := interceptor(context.Background(), "req", info, handler)
			require.Error(t, err)
			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level, tt.code.String())
		}
	})
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	FromContext(context.Background(), base).Info("plain")
	FromContext(context.WithValue(context.Background(), requestIDKey{}, "abc"), base).Info("tagged")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "request_id")
	assert.Equal(t, "abc", entries[1].ContextMap()["request_id"])
}
