package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names. Requests and responses are google.protobuf.Struct
// messages holding the JSON shapes of the provenance API.
const (
	LineageServiceName    = "provgraph.v1.Lineage"
	ProvenanceServiceName = "provgraph.v1.Provenance"

	MethodGetEntityLineage     = "GetEntityLineage"
	MethodGetEntityDescendants = "GetEntityDescendants"
	MethodGetCommonAncestors   = "GetCommonAncestors"
	MethodWriteFacts           = "WriteFacts"
	MethodDeleteFacts          = "DeleteFacts"
	MethodVerifyMirror         = "VerifyMirror"
)

// FullMethod returns the "/service/method" name used on the wire
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// LineageServer is the server API for the provgraph.v1.Lineage service
type LineageServer interface {
	GetEntityLineage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEntityDescendants(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCommonAncestors(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ProvenanceServer is the server API for the provgraph.v1.Provenance service
type ProvenanceServer interface {
	WriteFacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteFacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyMirror(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unary adapts fn to a grpc.MethodHandler, running it through the server interceptor chain
func unary(service, method string, fn structMethod) grpc.MethodDesc {
	fullMethod := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LineageServiceDesc describes the provgraph.v1.Lineage service
var LineageServiceDesc = grpc.ServiceDesc{
	ServiceName: LineageServiceName,
	HandlerType: (*LineageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(LineageServiceName, MethodGetEntityLineage, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(LineageServer).GetEntityLineage(ctx, req)
		}),
		unary(LineageServiceName, MethodGetEntityDescendants, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(LineageServer).GetEntityDescendants(ctx, req)
		}),
		unary(LineageServiceName, MethodGetCommonAncestors, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(LineageServer).GetCommonAncestors(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "provgraph/v1/lineage",
}

// ProvenanceServiceDesc describes the provgraph.v1.Provenance service
var ProvenanceServiceDesc = grpc.ServiceDesc{
	ServiceName: ProvenanceServiceName,
	HandlerType: (*ProvenanceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ProvenanceServiceName, MethodWriteFacts, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ProvenanceServer).WriteFacts(ctx, req)
		}),
		unary(ProvenanceServiceName, MethodDeleteFacts, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ProvenanceServer).DeleteFacts(ctx, req)
		}),
		unary(ProvenanceServiceName, MethodVerifyMirror, func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
			return srv.(ProvenanceServer).VerifyMirror(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "provgraph/v1/provenance",
}

// RegisterLineageServer registers srv on s
func RegisterLineageServer(s grpc.ServiceRegistrar, srv LineageServer) {
	s.RegisterService(&LineageServiceDesc, srv)
}

// RegisterProvenanceServer registers srv on s
func RegisterProvenanceServer(s grpc.ServiceRegistrar, srv ProvenanceServer) {
	s.RegisterService(&ProvenanceServiceDesc, srv)
}

// Invoke calls a unary Struct method on conn. Used by clients that have no generated stubs.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, service, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(service, method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
