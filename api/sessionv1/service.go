package sessionv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "devicetrust.v1.SessionService"

// Full method names, as seen by interceptors.
const (
	LoginMethod        = "/" + ServiceName + "/Login"
	CompleteMFAMethod  = "/" + ServiceName + "/CompleteMFA"
	RefreshMethod      = "/" + ServiceName + "/Refresh"
	LogoutMethod       = "/" + ServiceName + "/Logout"
	ListSessionsMethod = "/" + ServiceName + "/ListSessions"
)

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	CompleteMFA(ctx context.Context, req *CompleteMFARequest) (*AuthResponse, error)
	Refresh(ctx context.Context, req *RefreshRequest) (*AuthResponse, error)
	Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error)
	ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error)
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

// SessionService_ServiceDesc is the grpc.ServiceDesc for SessionService.
var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: _SessionService_Login_Handler},
		{MethodName: "CompleteMFA", Handler: _SessionService_CompleteMFA_Handler},
		{MethodName: "Refresh", Handler: _SessionService_Refresh_Handler},
		{MethodName: "Logout", Handler: _SessionService_Logout_Handler},
		{MethodName: "ListSessions", Handler: _SessionService_ListSessions_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "devicetrust/v1/session.proto",
}

func _SessionService_Login_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(LoginRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	return invoke(ctx, srv, req, LoginMethod, interceptor, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).Login(ctx, r.(*LoginRequest))
	})
}

func _SessionService_CompleteMFA_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CompleteMFARequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	return invoke(ctx, srv, req, CompleteMFAMethod, interceptor, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).CompleteMFA(ctx, r.(*CompleteMFARequest))
	})
}

func _SessionService_Refresh_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(RefreshRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	return invoke(ctx, srv, req, RefreshMethod, interceptor, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).Refresh(ctx, r.(*RefreshRequest))
	})
}

func _SessionService_Logout_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(LogoutRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	return invoke(ctx, srv, req, LogoutMethod, interceptor, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).Logout(ctx, r.(*LogoutRequest))
	})
}

func _SessionService_ListSessions_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListSessionsRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	return invoke(ctx, srv, req, ListSessionsMethod, interceptor, func(ctx context.Context, r interface{}) (interface{}, error) {
		return srv.(SessionServiceServer).ListSessions(ctx, r.(*ListSessionsRequest))
	})
}

func decodeRequest(dec func(interface{}) error, req interface{}) error {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return err
	}
	if err := Decode(in, req); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// invoke runs handler through interceptor and encodes the typed response for the wire.
func invoke(ctx context.Context, srv, req interface{}, method string, interceptor grpc.UnaryServerInterceptor, handler grpc.UnaryHandler) (interface{}, error) {
	var (
		resp interface{}
		err  error
	)
	if interceptor == nil {
		resp, err = handler(ctx, req)
	} else {
		resp, err = interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
	}
	if err != nil {
		return nil, err
	}
	out, err := Encode(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// SessionServiceClient is the client API for SessionService.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient returns a client that calls SessionService over cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) Login(ctx context.Context, req *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return call[AuthResponse](ctx, c.cc, LoginMethod, req, opts)
}

func (c *SessionServiceClient) CompleteMFA(ctx context.Context, req *CompleteMFARequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return call[AuthResponse](ctx, c.cc, CompleteMFAMethod, req, opts)
}

func (c *SessionServiceClient) Refresh(ctx context.Context, req *RefreshRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return call[AuthResponse](ctx, c.cc, RefreshMethod, req, opts)
}

func (c *SessionServiceClient) Logout(ctx context.Context, req *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return call[LogoutResponse](ctx, c.cc, LogoutMethod, req, opts)
}

func (c *SessionServiceClient) ListSessions(ctx context.Context, req *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return call[ListSessionsResponse](ctx, c.cc, ListSessionsMethod, req, opts)
}

func call[T any](ctx context.Context, cc grpc.ClientConnInterface, method string, req interface{}, opts []grpc.CallOption) (*T, error) {
	in, err := Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(T)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
