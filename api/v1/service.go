// Package v1 declares the subprocd.v1.SubprocessService gRPC service.
//
// The schema lives in subprocess.proto. Request and response messages are
// protobuf well-known types, so the service is declared by hand rather than
// generated. Helpers in messages.go convert between those types and the
// structured requests and responses.
package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const SubprocessService_ServiceName = "subprocd.v1.SubprocessService"

const (
	SubprocessService_Exec_FullMethodName            = "/subprocd.v1.SubprocessService/Exec"
	SubprocessService_Wait_FullMethodName            = "/subprocd.v1.SubprocessService/Wait"
	SubprocessService_CancelExec_FullMethodName      = "/subprocd.v1.SubprocessService/CancelExec"
	SubprocessService_InFlight_FullMethodName        = "/subprocd.v1.SubprocessService/InFlight"
	SubprocessService_Inspect_FullMethodName         = "/subprocd.v1.SubprocessService/Inspect"
	SubprocessService_SynchronousExec_FullMethodName = "/subprocd.v1.SubprocessService/SynchronousExec"
)

// SubprocessServiceServer is the server API for SubprocessService.
type SubprocessServiceServer interface {
	// Exec spawns a process and returns its tag. Request: ExecRequest.
	Exec(context.Context, *structpb.Struct) (*wrapperspb.UInt32Value, error)
	// Wait blocks until the process identified by a tag terminates and returns
	// its return code.
	Wait(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.Int32Value, error)
	// CancelExec detaches the completion of a tag.
	CancelExec(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
	// InFlight reports whether any completion is pending.
	InFlight(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error)
	// Inspect describes a tracked execution. Response: InspectResponse.
	Inspect(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	// SynchronousExec runs a process to completion. Request: ExecRequest.
	// Response: SynchronousExecResponse.
	SynchronousExec(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedSubprocessServiceServer can be embedded to have forward
// compatible implementations.
type UnimplementedSubprocessServiceServer struct{}

func (UnimplementedSubprocessServiceServer) Exec(context.Context, *structpb.Struct) (*wrapperspb.UInt32Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Exec not implemented")
}

func (UnimplementedSubprocessServiceServer) Wait(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.Int32Value, error) {
	return nil, status.Error(codes.Unimplemented, "method Wait not implemented")
}

func (UnimplementedSubprocessServiceServer) CancelExec(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelExec not implemented")
}

func (UnimplementedSubprocessServiceServer) InFlight(context.Context, *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method InFlight not implemented")
}

func (UnimplementedSubprocessServiceServer) Inspect(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Inspect not implemented")
}

func (UnimplementedSubprocessServiceServer) SynchronousExec(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method SynchronousExec not implemented")
}

func RegisterSubprocessServiceServer(
	s grpc.ServiceRegistrar,
	srv SubprocessServiceServer,
) {
	s.RegisterService(&SubprocessService_ServiceDesc, srv)
}

// SubprocessService_ServiceDesc is the grpc.ServiceDesc for SubprocessService.
var SubprocessService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SubprocessService_ServiceName,
	HandlerType: (*SubprocessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exec",
			Handler: unaryHandler(
				SubprocessService_Exec_FullMethodName,
				SubprocessServiceServer.Exec,
			),
		},
		{
			MethodName: "Wait",
			Handler: unaryHandler(
				SubprocessService_Wait_FullMethodName,
				SubprocessServiceServer.Wait,
			),
		},
		{
			MethodName: "CancelExec",
			Handler: unaryHandler(
				SubprocessService_CancelExec_FullMethodName,
				SubprocessServiceServer.CancelExec,
			),
		},
		{
			MethodName: "InFlight",
			Handler: unaryHandler(
				SubprocessService_InFlight_FullMethodName,
				SubprocessServiceServer.InFlight,
			),
		},
		{
			MethodName: "Inspect",
			Handler: unaryHandler(
				SubprocessService_Inspect_FullMethodName,
				SubprocessServiceServer.Inspect,
			),
		},
		{
			MethodName: "SynchronousExec",
			Handler: unaryHandler(
				SubprocessService_SynchronousExec_FullMethodName,
				SubprocessServiceServer.SynchronousExec,
			),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/v1/subprocess.proto",
}

// unaryHandler adapts a SubprocessServiceServer method to a grpc.MethodHandler.
func unaryHandler[Req any, Resp any](
	fullMethod string,
	call func(SubprocessServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(
		srv any,
		ctx context.Context,
		dec func(any) error,
		interceptor grpc.UnaryServerInterceptor,
	) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(SubprocessServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SubprocessServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

// SubprocessServiceClient is the client API for SubprocessService.
type SubprocessServiceClient interface {
	Exec(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.UInt32Value, error)
	Wait(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error)
	CancelExec(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error)
	InFlight(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	Inspect(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*structpb.Struct, error)
	SynchronousExec(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type subprocessServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSubprocessServiceClient(
	cc grpc.ClientConnInterface,
) SubprocessServiceClient {
	return &subprocessServiceClient{cc}
}

func (c *subprocessServiceClient) Exec(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.UInt32Value, error) {
	return invoke[wrapperspb.UInt32Value](ctx, c.cc, SubprocessService_Exec_FullMethodName, in, opts)
}

func (c *subprocessServiceClient) Wait(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*wrapperspb.Int32Value, error) {
	return invoke[wrapperspb.Int32Value](ctx, c.cc, SubprocessService_Wait_FullMethodName, in, opts)
}

func (c *subprocessServiceClient) CancelExec(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, SubprocessService_CancelExec_FullMethodName, in, opts)
}

func (c *subprocessServiceClient) InFlight(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return invoke[wrapperspb.BoolValue](ctx, c.cc, SubprocessService_InFlight_FullMethodName, in, opts)
}

func (c *subprocessServiceClient) Inspect(ctx context.Context, in *wrapperspb.UInt32Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SubprocessService_Inspect_FullMethodName, in, opts)
}

func (c *subprocessServiceClient) SynchronousExec(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, SubprocessService_SynchronousExec_FullMethodName, in, opts)
}

func invoke[Resp any](
	ctx context.Context,
	cc grpc.ClientConnInterface,
	method string,
	in any,
	opts []grpc.CallOption,
) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
