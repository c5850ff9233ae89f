// seed inserts development accounts for local testing, one per role.
// Idempotent: an existing email is left untouched. With -rego the default token policy is
// stored as an enabled OPA override so POLICY_ENGINE=opa has something to read.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devicetrust/internal/config"
	"devicetrust/internal/db"
	"devicetrust/internal/logger"
	policydomain "devicetrust/internal/policy/domain"
	"devicetrust/internal/policy/engine"
	policyrepo "devicetrust/internal/policy/repository"
	"devicetrust/internal/security"
	userdomain "devicetrust/internal/user/domain"
	userrepo "devicetrust/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []struct {
	email, name, role string
}{
	{"admin@example.com", "Dev Admin", policydomain.RoleAdmin},
	{"moderator@example.com", "Dev Moderator", policydomain.RoleModerator},
	{"dev@example.com", "Dev User", policydomain.RoleUser},
	{"guest@example.com", "Dev Guest", policydomain.RoleGuest},
}

func main() {
	withRego := flag.Bool("rego", false, "store the default Rego token policy as an enabled override")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("config", zap.Error(err))
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		zap.L().Fatal("logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer conn.Close()

	hasher, err := security.NewHasher(cfg.BcryptCost)
	if err != nil {
		log.Fatal("password hasher", zap.Error(err))
	}
	hash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		log.Fatal("hash password", zap.Error(err))
	}

	users := userrepo.NewPostgresRepository(conn)
	now := time.Now().UTC()
	for _, u := range devUsers {
		err := users.Create(ctx, &userdomain.User{
			ID:           uuid.NewString(),
			Email:        u.email,
			Name:         u.name,
			PasswordHash: hash,
			Role:         u.role,
			Status:       userdomain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			log.Fatal("seed user", zap.String("email", u.email), zap.Error(err))
		}
	}
	log.Info("seeded users", zap.Int("count", len(devUsers)), zap.String("password", devPassword))

	if *withRego {
		rules := &policydomain.Rules{Rules: engine.DefaultRegoPolicy, Enabled: true}
		if err := policyrepo.NewPostgresRepository(conn).Create(ctx, rules); err != nil {
			log.Fatal("seed rego policy", zap.Error(err))
		}
		log.Info("stored default rego policy", zap.String("id", rules.ID))
	}
}
