// Package handler exposes the login flows as devicetrust.v1.SessionService.
package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"devicetrust/api/sessionv1"
	devicedomain "devicetrust/internal/device/domain"
	"devicetrust/internal/login"
	"devicetrust/internal/server/interceptors"
	sessiondomain "devicetrust/internal/session/domain"
)

// SessionLister lists a user's active device sessions. *registry.Registry satisfies it.
type SessionLister interface {
	ListActive(ctx context.Context, userID string) ([]*sessiondomain.Record, error)
}

// Server implements sessionv1.SessionServiceServer on top of the login service.
type Server struct {
	svc      *login.Service
	sessions SessionLister
}

// NewServer returns a SessionService server. If svc is nil, all RPCs return Unimplemented.
func NewServer(svc *login.Service, sessions SessionLister) *Server {
	return &Server{svc: svc, sessions: sessions}
}

// Login authenticates with email and password from the device described in the request.
func (s *Server) Login(ctx context.Context, req *sessionv1.LoginRequest) (*sessionv1.AuthResponse, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}
	if req.Device.StableID == "" && req.Device.Fingerprint == "" {
		return nil, status.Error(codes.InvalidArgument, "device stableId or fingerprint is required")
	}
	out, err := s.svc.Login(ctx, login.Request{
		Email:    req.Email,
		Password: req.Password,
		Identity: devicedomain.Identity{
			StableID:     req.Device.StableID,
			Fingerprint:  req.Device.Fingerprint,
			IsNative:     req.Device.IsNative,
			Model:        req.Device.Model,
			Platform:     req.Device.Platform,
			OSVersion:    req.Device.OSVersion,
			Manufacturer: req.Device.Manufacturer,
		},
		Client: devicedomain.Client{
			UserAgent:  req.UserAgent,
			IPAddress:  interceptors.ClientIP(ctx),
			Standalone: req.Standalone,
		},
	})
	if err != nil {
		return nil, toStatus("Login", err)
	}
	return authResponse(out), nil
}

// CompleteMFA answers the challenge issued by Login and returns the token pair.
func (s *Server) CompleteMFA(ctx context.Context, req *sessionv1.CompleteMFARequest) (*sessionv1.AuthResponse, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method CompleteMFA not implemented")
	}
	if req.UserID == "" || req.ChallengeID == "" || req.Code == "" {
		return nil, status.Error(codes.InvalidArgument, "userId, challengeId and code are required")
	}
	out, err := s.svc.CompleteMFA(ctx, req.UserID, req.ChallengeID, req.Code)
	if err != nil {
		return nil, toStatus("CompleteMFA", err)
	}
	return authResponse(out), nil
}

// Refresh rotates the token pair with a freshly computed policy.
func (s *Server) Refresh(ctx context.Context, req *sessionv1.RefreshRequest) (*sessionv1.AuthResponse, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refreshToken is required")
	}
	out, err := s.svc.Renew(ctx, req.RefreshToken)
	if err != nil {
		return nil, toStatus("Refresh", err)
	}
	return authResponse(out), nil
}

// Logout signs out the caller's current device session.
func (s *Server) Logout(ctx context.Context, req *sessionv1.LogoutRequest) (*sessionv1.LogoutResponse, error) {
	if s.svc == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	userID, sessionID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Logout(ctx, userID, sessionID); err != nil {
		return nil, toStatus("Logout", err)
	}
	return &sessionv1.LogoutResponse{}, nil
}

// ListSessions returns the caller's active device sessions.
func (s *Server) ListSessions(ctx context.Context, req *sessionv1.ListSessionsRequest) (*sessionv1.ListSessionsResponse, error) {
	if s.sessions == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	userID, sessionID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, toStatus("ListSessions", err)
	}
	out := &sessionv1.ListSessionsResponse{Sessions: make([]sessionv1.Session, 0, len(list))}
	for _, rec := range list {
		out.Sessions = append(out.Sessions, recordToSession(rec, sessionID))
	}
	return out, nil
}

func caller(ctx context.Context) (userID, sessionID string, err error) {
	userID, _ = interceptors.GetUserID(ctx)
	sessionID, _ = interceptors.GetSessionID(ctx)
	if userID == "" {
		return "", "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, sessionID, nil
}

func toStatus(method string, err error) error {
	switch {
	case errors.Is(err, login.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid email or password")
	case errors.Is(err, login.ErrInvalidMFA):
		return status.Error(codes.Unauthenticated, login.ErrInvalidMFA.Error())
	case errors.Is(err, login.ErrInvalidRefreshToken):
		return status.Error(codes.Unauthenticated, login.ErrInvalidRefreshToken.Error())
	case errors.Is(err, login.ErrSessionRevoked):
		return status.Error(codes.Unauthenticated, login.ErrSessionRevoked.Error())
	case errors.Is(err, login.ErrStepUpRequired):
		return status.Error(codes.PermissionDenied, login.ErrStepUpRequired.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	zap.L().Error("session service: "+method+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func authResponse(out *login.Outcome) *sessionv1.AuthResponse {
	resp := &sessionv1.AuthResponse{
		UserID:    out.UserID,
		Role:      out.Role,
		SessionID: out.SessionID,
		Policy: sessionv1.Policy{
			Role:            out.Policy.Role,
			IsNewDevice:     out.Policy.IsNewDevice,
			IsDeviceTrusted: out.Policy.IsDeviceTrusted,
			LifetimeMinutes: out.Policy.LifetimeMinutes,
			RequiresMFA:     out.Policy.RequiresMFA,
		},
	}
	if t := out.Tokens; t != nil {
		resp.Tokens = &sessionv1.Tokens{
			AccessToken:      t.AccessToken,
			AccessExpiresAt:  t.AccessExpiresAt,
			RefreshToken:     t.RefreshToken,
			RefreshExpiresAt: t.RefreshExpiresAt,
		}
	}
	if m := out.MFA; m != nil {
		resp.MFA = &sessionv1.Challenge{ChallengeID: m.ChallengeID, ExpiresAt: m.ExpiresAt, DevOTP: m.DevOTP}
	}
	if out.BookkeepingErr != nil {
		zap.L().Warn("session service: bookkeeping failed", zap.String("user_id", out.UserID), zap.Error(out.BookkeepingErr))
	}
	return resp
}

func recordToSession(rec *sessiondomain.Record, current string) sessionv1.Session {
	s := sessionv1.Session{
		ID:           rec.ID,
		DeviceName:   rec.DeviceName,
		DeviceType:   string(rec.DeviceType),
		Platform:     string(rec.PlatformType),
		IsTrusted:    rec.IsTrusted,
		LoginCount:   rec.LoginCount,
		LastActivity: rec.LastActivity,
		Current:      rec.ID == current,
	}
	if rec.IPAddress != nil {
		s.IPAddress = *rec.IPAddress
	}
	if rec.GeoCity != nil {
		s.City = *rec.GeoCity
	}
	if rec.GeoCountry != nil {
		s.Country = *rec.GeoCountry
	}
	return s
}
