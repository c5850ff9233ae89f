// server runs devicetrust.v1.SessionService: device-aware login, adaptive token policy,
// second-factor challenges and the security event trail.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"

	"devicetrust/api/sessionv1"
	"devicetrust/internal/audit"
	auditrepo "devicetrust/internal/audit/repository"
	"devicetrust/internal/config"
	"devicetrust/internal/db"
	"devicetrust/internal/geo"
	"devicetrust/internal/health"
	"devicetrust/internal/logger"
	"devicetrust/internal/login"
	"devicetrust/internal/mfa"
	mfarepo "devicetrust/internal/mfa/repository"
	"devicetrust/internal/policy/engine"
	policyrepo "devicetrust/internal/policy/repository"
	"devicetrust/internal/security"
	"devicetrust/internal/server"
	"devicetrust/internal/server/interceptors"
	"devicetrust/internal/session/registry"
	sessionrepo "devicetrust/internal/session/repository"
	"devicetrust/internal/telemetry"
	otelsetup "devicetrust/internal/telemetry/otel"
	"devicetrust/internal/telemetry/producer"
	"devicetrust/internal/trust"
	userrepo "devicetrust/internal/user/repository"
)

const (
	serviceName    = "devicetrust-server"
	healthInterval = 15 * time.Second
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()
	metrics := otelsetup.NewMetrics(providers.MeterProvider)

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer database.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis url", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	sessions := sessionrepo.NewPostgresStore(database)
	reg := registry.New(sessions, geoLookup(cfg, rdb))
	trustStore := trust.NewStore(sessions, cfg.TrustWindowDuration(), nil)

	eval, policyHealth := policyEvaluator(cfg, database)
	policy := engine.New(eval, engine.Config{MFAThresholdMinutes: cfg.MFAThresholdMinutes})

	var challengeRepo mfarepo.Repository = mfarepo.NewMemoryRepository()
	if rdb != nil {
		challengeRepo = mfarepo.NewRedisRepository(rdb)
	}
	var sender mfa.Sender
	if !cfg.DevOTPEnabled {
		sender = logSender{}
	}
	challenges := mfa.NewService(challengeRepo, sender, cfg.ChallengeTTL())

	tokens, err := tokenProvider(cfg)
	if err != nil {
		log.Fatal("token keys", zap.Error(err))
	}
	passwords, err := security.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatal("password hasher", zap.Error(err))
	}

	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
	}
	events := audit.NewLogger(auditrepo.NewPostgresRepository(database), interceptors.ClientIP, emitters...)

	svc := login.NewService(login.Deps{
		Users:      userrepo.NewPostgresRepository(database),
		Sessions:   reg,
		Trust:      trustStore,
		Policy:     policy,
		Challenges: challenges,
		Tokens:     tokens,
		Passwords:  passwords,
		Events:     events,
		Metrics:    metrics,
	}, cfg.DevOTPEnabled)

	healthSrv := grpchealth.NewServer()
	go health.NewChecker(database, policyHealth).Watch(ctx, healthSrv, sessionv1.ServiceName, healthInterval)

	s := server.NewServer(server.Deps{
		Login:    svc,
		Sessions: reg,
		Tokens:   tokens,
		Health:   healthSrv,
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr), zap.String("policy_engine", cfg.PolicyEngine))
		if err := s.Serve(lis); err != nil {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gRPC server")
	healthSrv.Shutdown()
	s.GracefulStop()

	events.Wait()
	if err := kafkaProducer.Close(); err != nil {
		log.Warn("kafka producer close", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
	log.Info("gRPC server stopped")
}

func geoLookup(cfg *config.Config, rdb *redis.Client) geo.Lookup {
	if cfg.GeoLookupURL == "" {
		return geo.Nop{}
	}
	var lookup geo.Lookup = geo.NewHTTPLookup(cfg.GeoLookupURL, nil)
	if rdb != nil {
		lookup = geo.NewCachedLookup(lookup, rdb, cfg.GeoCacheTTLDuration())
	}
	return lookup
}

func policyEvaluator(cfg *config.Config, database *sqlx.DB) (engine.Evaluator, health.PolicyChecker) {
	if cfg.PolicyEngine != "opa" {
		return engine.TableEvaluator{}, nil
	}
	opa := engine.NewOPAEvaluator(policyrepo.NewPostgresRepository(database))
	return opa, opa
}

func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	var (
		keys security.KeyPair
		err  error
	)
	if cfg.JWTPrivateKey == "" {
		zap.L().Warn("JWT_PRIVATE_KEY not set; signing with an ephemeral key")
		keys, err = security.GenerateEphemeralKey()
	} else {
		keys, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("token signing key loaded", zap.String("alg", security.KeyAlg(keys.Public)))
	return security.NewTokenProvider(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.RefreshTTL()), nil
}

// logSender writes one-time codes to the debug log. It stands in for an SMS or mail gateway.
type logSender struct{}

func (logSender) SendOTP(ctx context.Context, userID, otp string) error {
	zap.L().Debug("mfa code issued", zap.String("user_id", userID), zap.String("otp", otp))
	return nil
}
