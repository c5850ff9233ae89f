// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up|down.
// With -list it prints the migrations compiled into the binary and exits.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"devicetrust/internal/config"
	"devicetrust/internal/db/migrate"
	"devicetrust/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	list := flag.Bool("list", false, "List embedded migrations and exit")
	flag.Parse()

	if *list {
		migrations, err := migrate.Embedded()
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		for _, m := range migrations {
			fmt.Printf("%06d  %s\n", m.Version, m.Name)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	res, err := migrate.Run(cfg.DatabaseURL, *direction)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("schema already current", zap.Uint("version", res.To))
	case err != nil:
		log.Fatal("migrate", zap.Uint("version", res.To), zap.Error(err))
	}
}
