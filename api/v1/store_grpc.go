package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "zlock.v1.Store"

const (
	Store_Grant_FullMethodName         = "/zlock.v1.Store/Grant"
	Store_KeepAlive_FullMethodName     = "/zlock.v1.Store/KeepAlive"
	Store_Revoke_FullMethodName        = "/zlock.v1.Store/Revoke"
	Store_Put_FullMethodName           = "/zlock.v1.Store/Put"
	Store_CompareAndPut_FullMethodName = "/zlock.v1.Store/CompareAndPut"
	Store_Get_FullMethodName           = "/zlock.v1.Store/Get"
	Store_Range_FullMethodName         = "/zlock.v1.Store/Range"
	Store_Delete_FullMethodName        = "/zlock.v1.Store/Delete"
	Store_Status_FullMethodName        = "/zlock.v1.Store/Status"
)

// StoreClient is the client API for the Store service.
type StoreClient interface {
	Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error)
	KeepAlive(ctx context.Context, in *KeepAliveRequest, opts ...grpc.CallOption) (*KeepAliveResponse, error)
	Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error)
	Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error)
	CompareAndPut(ctx context.Context, in *CompareAndPutRequest, opts ...grpc.CallOption) (*CompareAndPutResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Range(ctx context.Context, in *RangeRequest, opts ...grpc.CallOption) (*RangeResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type storeClient struct {
	cc grpc.ClientConnInterface
}

func NewStoreClient(cc grpc.ClientConnInterface) StoreClient {
	return &storeClient{cc}
}

// every call goes out with the JSON codec
func (c *storeClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, in, out, append([]grpc.CallOption{CallOption()}, opts...)...)
}

func (c *storeClient) Grant(ctx context.Context, in *GrantRequest, opts ...grpc.CallOption) (*GrantResponse, error) {
	out := new(GrantResponse)
	if err := c.invoke(ctx, Store_Grant_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) KeepAlive(ctx context.Context, in *KeepAliveRequest, opts ...grpc.CallOption) (*KeepAliveResponse, error) {
	out := new(KeepAliveResponse)
	if err := c.invoke(ctx, Store_KeepAlive_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Revoke(ctx context.Context, in *RevokeRequest, opts ...grpc.CallOption) (*RevokeResponse, error) {
	out := new(RevokeResponse)
	if err := c.invoke(ctx, Store_Revoke_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Put(ctx context.Context, in *PutRequest, opts ...grpc.CallOption) (*PutResponse, error) {
	out := new(PutResponse)
	if err := c.invoke(ctx, Store_Put_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) CompareAndPut(ctx context.Context, in *CompareAndPutRequest, opts ...grpc.CallOption) (*CompareAndPutResponse, error) {
	out := new(CompareAndPutResponse)
	if err := c.invoke(ctx, Store_CompareAndPut_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.invoke(ctx, Store_Get_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Range(ctx context.Context, in *RangeRequest, opts ...grpc.CallOption) (*RangeResponse, error) {
	out := new(RangeResponse)
	if err := c.invoke(ctx, Store_Range_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	if err := c.invoke(ctx, Store_Delete_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, Store_Status_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// StoreServer is the server API for the Store service.
// Implementations must embed UnimplementedStoreServer.
type StoreServer interface {
	Grant(context.Context, *GrantRequest) (*GrantResponse, error)
	KeepAlive(context.Context, *KeepAliveRequest) (*KeepAliveResponse, error)
	Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error)
	Put(context.Context, *PutRequest) (*PutResponse, error)
	CompareAndPut(context.Context, *CompareAndPutRequest) (*CompareAndPutResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Range(context.Context, *RangeRequest) (*RangeResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	mustEmbedUnimplementedStoreServer()
}

type UnimplementedStoreServer struct{}

func (UnimplementedStoreServer) Grant(context.Context, *GrantRequest) (*GrantResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Grant not implemented")
}
func (UnimplementedStoreServer) KeepAlive(context.Context, *KeepAliveRequest) (*KeepAliveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method KeepAlive not implemented")
}
func (UnimplementedStoreServer) Revoke(context.Context, *RevokeRequest) (*RevokeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Revoke not implemented")
}
func (UnimplementedStoreServer) Put(context.Context, *PutRequest) (*PutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedStoreServer) CompareAndPut(context.Context, *CompareAndPutRequest) (*CompareAndPutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CompareAndPut not implemented")
}
func (UnimplementedStoreServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedStoreServer) Range(context.Context, *RangeRequest) (*RangeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Range not implemented")
}
func (UnimplementedStoreServer) Delete(context.Context, *DeleteRequest) (*DeleteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedStoreServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}
func (UnimplementedStoreServer) mustEmbedUnimplementedStoreServer() {}

func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&Store_ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc's method handler signature
func unaryHandler[Req any, Resp any](method string, call func(StoreServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StoreServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StoreServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Store_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Grant", Handler: unaryHandler(Store_Grant_FullMethodName, StoreServer.Grant)},
		{MethodName: "KeepAlive", Handler: unaryHandler(Store_KeepAlive_FullMethodName, StoreServer.KeepAlive)},
		{MethodName: "Revoke", Handler: unaryHandler(Store_Revoke_FullMethodName, StoreServer.Revoke)},
		{MethodName: "Put", Handler: unaryHandler(Store_Put_FullMethodName, StoreServer.Put)},
		{MethodName: "CompareAndPut", Handler: unaryHandler(Store_CompareAndPut_FullMethodName, StoreServer.CompareAndPut)},
		{MethodName: "Get", Handler: unaryHandler(Store_Get_FullMethodName, StoreServer.Get)},
		{MethodName: "Range", Handler: unaryHandler(Store_Range_FullMethodName, StoreServer.Range)},
		{MethodName: "Delete", Handler: unaryHandler(Store_Delete_FullMethodName, StoreServer.Delete)},
		{MethodName: "Status", Handler: unaryHandler(Store_Status_FullMethodName, StoreServer.Status)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zlock/v1/store",
}
