package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"devicetrust/api/sessionv1"
	"devicetrust/internal/login"
	loginhandler "devicetrust/internal/login/handler"
	"devicetrust/internal/server/interceptors"
	sessiondomain "devicetrust/internal/session/domain"
	"devicetrust/internal/session/registry"
)

// SessionReader reads and lists device sessions. *registry.Registry satisfies it.
type SessionReader interface {
	loginhandler.SessionLister
	Get(ctx context.Context, userID, sessionID string) (*sessiondomain.Record, error)
}

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Login runs the login flows. If nil, SessionService RPCs return Unimplemented.
	Login *login.Service
	// Sessions backs ListSessions and the per-call active session check. If nil, neither runs.
	Sessions SessionReader
	// Tokens validates access tokens on protected RPCs.
	Tokens interceptors.AccessValidator
	// Health is the standard health service. If nil, none is registered.
	Health *grpchealth.Server
}

// PublicMethods are the RPCs that do not require a Bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		sessionv1.LoginMethod:       true,
		sessionv1.CompleteMFAMethod: true,
		sessionv1.RefreshMethod:     true,

		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// NewServer returns a gRPC server with tracing, request logging and authentication installed
// and all services registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	var validator interceptors.SessionValidator
	if deps.Sessions != nil {
		validator = ActiveSession(deps.Sessions)
	}
	skip := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(skip),
			interceptors.AuthUnary(deps.Tokens, PublicMethods(), validator),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers SessionService and, when configured, the health service.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var lister loginhandler.SessionLister
	if deps.Sessions != nil {
		lister = deps.Sessions
	}
	sessionv1.RegisterSessionServiceServer(s, loginhandler.NewServer(deps.Login, lister))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}

// ActiveSession returns a SessionValidator that accepts only sessions still active in the registry.
func ActiveSession(sessions SessionReader) interceptors.SessionValidator {
	return func(ctx context.Context, userID, sessionID string) (bool, error) {
		if sessionID == "" {
			return false, nil
		}
		rec, err := sessions.Get(ctx, userID, sessionID)
		if errors.Is(err, registry.ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil && rec.IsActive, nil
	}
}
