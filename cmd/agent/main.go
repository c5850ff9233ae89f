// agent signs this host in to SessionService and keeps its token renewed until interrupted
// or a renewal fails. Set AGENT_SERVER_ADDR, AGENT_EMAIL and AGENT_PASSWORD.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"devicetrust/internal/agent"
	"devicetrust/internal/auth/grpcclient"
	"devicetrust/internal/config"
	"devicetrust/internal/device/identity"
	"devicetrust/internal/logger"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("config", zap.Error(err))
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		zap.L().Fatal("logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if cfg.AgentEmail == "" || cfg.AgentPassword == "" {
		log.Fatal("agent: AGENT_EMAIL and AGENT_PASSWORD are required")
	}
	if err := os.MkdirAll(cfg.AgentStateDir, 0o700); err != nil {
		log.Fatal("agent: state dir", zap.String("dir", cfg.AgentStateDir), zap.Error(err))
	}

	userAgent := identity.AgentUserAgent(version)
	resolver := identity.NewResolver(
		identity.NewHostBridge(cfg.AgentNativeID),
		identity.NewFileChannel(filepath.Join(cfg.AgentStateDir, "state.json")),
		identity.NewCookieChannel(filepath.Join(cfg.AgentStateDir, "device.cookie")),
		identity.EnvironmentAttributes,
	)

	conn, err := grpc.NewClient(cfg.AgentServerAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		log.Fatal("agent: dial", zap.String("addr", cfg.AgentServerAddr), zap.Error(err))
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := agent.New(resolver, grpcclient.New(conn), agent.Credentials{
		Email:    cfg.AgentEmail,
		Password: cfg.AgentPassword,
	}, userAgent, nil)

	resp, err := a.Start(ctx)
	if err != nil {
		log.Fatal("agent: login failed", zap.Error(err))
	}
	if resp.MFA != nil {
		code := resp.MFA.DevOTP
		if code == "" {
			code, err = promptCode(resp.MFA.ExpiresAt)
			if err != nil {
				log.Fatal("agent: read code", zap.Error(err))
			}
		}
		if resp, err = a.CompleteMFA(code); err != nil {
			log.Fatal("agent: second factor failed", zap.Error(err))
		}
	}
	log.Info("agent: signed in",
		zap.String("session_id", resp.SessionID),
		zap.String("role", resp.Policy.Role),
		zap.Bool("new_device", resp.Policy.IsNewDevice),
		zap.Bool("trusted", resp.Policy.IsDeviceTrusted),
		zap.Int("lifetime_minutes", resp.Policy.LifetimeMinutes))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			log.Warn("agent: sign out", zap.Error(err))
		}
		log.Info("agent: stopped")
	case err := <-a.SignedOut():
		log.Warn("agent: signed out after failed renewal", zap.Error(err))
	}
}

func promptCode(expires time.Time) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter the verification code (expires %s): ", expires.Local().Format(time.Kitchen))
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
