package interceptors

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"devicetrust/internal/security"
)

const bearerPrefix = "bearer "

// AccessValidator parses an access token. *security.TokenProvider satisfies it.
type AccessValidator interface {
	ValidateAccess(token string) (*security.AccessClaims, error)
}

// SessionValidator reports whether the session named in a valid access token is still active.
// A signed-out device keeps a cryptographically valid token until it expires; this closes that gap.
type SessionValidator func(ctx context.Context, userID, sessionID string) (bool, error)

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id, session_id and role in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (Login, CompleteMFA, Refresh and the health check). sessionValidator may be nil.
func AuthUnary(tokens AccessValidator, publicMethods map[string]bool, sessionValidator SessionValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		claims, err := tokens.ValidateAccess(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		if sessionValidator != nil {
			active, err := sessionValidator(ctx, claims.Subject, claims.SessionID)
			if err != nil {
				zap.L().Warn("auth: session check failed",
					zap.String("session_id", claims.SessionID), zap.Error(err))
				return nil, status.Error(codes.Unauthenticated, "session could not be verified")
			}
			if !active {
				return nil, status.Error(codes.Unauthenticated, "session is no longer active")
			}
		}
		ctx = WithIdentity(ctx, claims.Subject, claims.SessionID, claims.Role)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
