package executorv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "golem.workerexecutor.v1.WorkerExecutor"

// WorkerExecutorServer is the server API of the worker executor.
type WorkerExecutorServer interface {
	CreateWorker(context.Context, *CreateWorkerRequest) (*CreateWorkerResponse, error)
	Invoke(context.Context, *InvokeRequest) (*InvokeResponse, error)
	InvokeAndAwait(context.Context, *InvokeRequest) (*InvokeAndAwaitResponse, error)
	Interrupt(context.Context, *InterruptRequest) (*Empty, error)
	Resume(context.Context, *WorkerRequest) (*Empty, error)
	Jump(context.Context, *JumpRequest) (*Empty, error)
	SetRetryPolicy(context.Context, *SetRetryPolicyRequest) (*Empty, error)
	GetMetadata(context.Context, *WorkerRequest) (*WorkerMetadata, error)
	ListWorkers(context.Context, *ListWorkersRequest) (*ListWorkersResponse, error)
	ReadOplog(context.Context, *ReadOplogRequest) (*ReadOplogResponse, error)
	RegisterComponent(context.Context, *RegisterComponentRequest) (*Component, error)
	AssignShards(context.Context, *ShardsRequest) (*ShardsResponse, error)
	RevokeShards(context.Context, *ShardsRequest) (*ShardsResponse, error)
}

// UnimplementedWorkerExecutorServer answers every method with
// codes.Unimplemented. Embed it for forward compatibility.
type UnimplementedWorkerExecutorServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedWorkerExecutorServer) CreateWorker(context.Context, *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	return nil, unimplemented("CreateWorker")
}
func (UnimplementedWorkerExecutorServer) Invoke(context.Context, *InvokeRequest) (*InvokeResponse, error) {
	return nil, unimplemented("Invoke")
}
func (UnimplementedWorkerExecutorServer) InvokeAndAwait(context.Context, *InvokeRequest) (*InvokeAndAwaitResponse, error) {
	return nil, unimplemented("InvokeAndAwait")
}
func (UnimplementedWorkerExecutorServer) Interrupt(context.Context, *InterruptRequest) (*Empty, error) {
	return nil, unimplemented("Interrupt")
}
func (UnimplementedWorkerExecutorServer) Resume(context.Context, *WorkerRequest) (*Empty, error) {
	return nil, unimplemented("Resume")
}
func (UnimplementedWorkerExecutorServer) Jump(context.Context, *JumpRequest) (*Empty, error) {
	return nil, unimplemented("Jump")
}
func (UnimplementedWorkerExecutorServer) SetRetryPolicy(context.Context, *SetRetryPolicyRequest) (*Empty, error) {
	return nil, unimplemented("SetRetryPolicy")
}
func (UnimplementedWorkerExecutorServer) GetMetadata(context.Context, *WorkerRequest) (*WorkerMetadata, error) {
	return nil, unimplemented("GetMetadata")
}
func (UnimplementedWorkerExecutorServer) ListWorkers(context.Context, *ListWorkersRequest) (*ListWorkersResponse, error) {
	return nil, unimplemented("ListWorkers")
}
func (UnimplementedWorkerExecutorServer) ReadOplog(context.Context, *ReadOplogRequest) (*ReadOplogResponse, error) {
	return nil, unimplemented("ReadOplog")
}
func (UnimplementedWorkerExecutorServer) RegisterComponent(context.Context, *RegisterComponentRequest) (*Component, error) {
	return nil, unimplemented("RegisterComponent")
}
func (UnimplementedWorkerExecutorServer) AssignShards(context.Context, *ShardsRequest) (*ShardsResponse, error) {
	return nil, unimplemented("AssignShards")
}
func (UnimplementedWorkerExecutorServer) RevokeShards(context.Context, *ShardsRequest) (*ShardsResponse, error) {
	return nil, unimplemented("RevokeShards")
}

// unary builds the method descriptor of one unary call. The wire message is
// a structpb.Struct; req and resp are its typed views.
func unary[Req, Resp any](name string, call func(WorkerExecutorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, msg any) (any, error) {
				req := new(Req)
				if err := FromStruct(msg.(*structpb.Struct), req); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
				}
				resp, err := call(srv.(WorkerExecutorServer), ctx, req)
				if err != nil {
					return nil, err
				}
				return ToStruct(resp)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the WorkerExecutor service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateWorker", WorkerExecutorServer.CreateWorker),
		unary("Invoke", WorkerExecutorServer.Invoke),
		unary("InvokeAndAwait", WorkerExecutorServer.InvokeAndAwait),
		unary("Interrupt", WorkerExecutorServer.Interrupt),
		unary("Resume", WorkerExecutorServer.Resume),
		unary("Jump", WorkerExecutorServer.Jump),
		unary("SetRetryPolicy", WorkerExecutorServer.SetRetryPolicy),
		unary("GetMetadata", WorkerExecutorServer.GetMetadata),
		unary("ListWorkers", WorkerExecutorServer.ListWorkers),
		unary("ReadOplog", WorkerExecutorServer.ReadOplog),
		unary("RegisterComponent", WorkerExecutorServer.RegisterComponent),
		unary("AssignShards", WorkerExecutorServer.AssignShards),
		unary("RevokeShards", WorkerExecutorServer.RevokeShards),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "golem/workerexecutor/v1/executor.proto",
}

func RegisterWorkerExecutorServer(s grpc.ServiceRegistrar, srv WorkerExecutorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// WorkerExecutorClient is the client API of the worker executor.
type WorkerExecutorClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkerExecutorClient(cc grpc.ClientConnInterface) *WorkerExecutorClient {
	return &WorkerExecutorClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := FromStruct(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *WorkerExecutorClient) CreateWorker(ctx context.Context, in *CreateWorkerRequest, opts ...grpc.CallOption) (*CreateWorkerResponse, error) {
	return invoke[CreateWorkerResponse](ctx, c.cc, "CreateWorker", in, opts)
}

func (c *WorkerExecutorClient) Invoke(ctx context.Context, in *InvokeRequest, opts ...grpc.CallOption) (*InvokeResponse, error) {
	return invoke[InvokeResponse](ctx, c.cc, "Invoke", in, opts)
}

func (c *WorkerExecutorClient) InvokeAndAwait(ctx context.Context, in *InvokeRequest, opts ...grpc.CallOption) (*InvokeAndAwaitResponse, error) {
	return invoke[InvokeAndAwaitResponse](ctx, c.cc, "InvokeAndAwait", in, opts)
}

func (c *WorkerExecutorClient) Interrupt(ctx context.Context, in *InterruptRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Interrupt", in, opts)
}

func (c *WorkerExecutorClient) Resume(ctx context.Context, in *WorkerRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Resume", in, opts)
}

func (c *WorkerExecutorClient) Jump(ctx context.Context, in *JumpRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Jump", in, opts)
}

func (c *WorkerExecutorClient) SetRetryPolicy(ctx context.Context, in *SetRetryPolicyRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "SetRetryPolicy", in, opts)
}

func (c *WorkerExecutorClient) GetMetadata(ctx context.Context, in *WorkerRequest, opts ...grpc.CallOption) (*WorkerMetadata, error) {
	return invoke[WorkerMetadata](ctx, c.cc, "GetMetadata", in, opts)
}

func (c *WorkerExecutorClient) ListWorkers(ctx context.Context, in *ListWorkersRequest, opts ...grpc.CallOption) (*ListWorkersResponse, error) {
	return invoke[ListWorkersResponse](ctx, c.cc, "ListWorkers", in, opts)
}

func (c *WorkerExecutorClient) ReadOplog(ctx context.Context, in *ReadOplogRequest, opts ...grpc.CallOption) (*ReadOplogResponse, error) {
	return invoke[ReadOplogResponse](ctx, c.cc, "ReadOplog", in, opts)
}

func (c *WorkerExecutorClient) RegisterComponent(ctx context.Context, in *RegisterComponentRequest, opts ...grpc.CallOption) (*Component, error) {
	return invoke[Component](ctx, c.cc, "RegisterComponent", in, opts)
}

func (c *WorkerExecutorClient) AssignShards(ctx context.Context, in *ShardsRequest, opts ...grpc.CallOption) (*ShardsResponse, error) {
	return invoke[ShardsResponse](ctx, c.cc, "AssignShards", in, opts)
}

func (c *WorkerExecutorClient) RevokeShards(ctx context.Context, in *ShardsRequest, opts ...grpc.CallOption) (*ShardsResponse, error) {
	return invoke[ShardsResponse](ctx, c.cc, "RevokeShards", in, opts)
}
