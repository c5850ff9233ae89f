// Package migrate applies the embedded session store schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"devicetrust/internal/db"
)

const dir = "migrations"

// ErrNoChange is returned when the schema is already at the requested end.
var ErrNoChange = migrate.ErrNoChange

// Migration is one embedded schema step.
type Migration struct {
	Version uint
	Name    string
}

// Result reports the schema version before and after a run. Version 0 means no migration applied.
type Result struct {
	From uint
	To   uint
}

// Embedded lists the migrations compiled into the binary, oldest first.
func Embedded() ([]Migration, error) {
	ups, err := fs.Glob(db.MigrationFS, dir+"/*.up.sql")
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(ups))
	for _, p := range ups {
		base := strings.TrimSuffix(strings.TrimPrefix(p, dir+"/"), ".up.sql")
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %q: missing version prefix", p)
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", p, err)
		}
		out = append(out, Migration{Version: uint(v), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Run moves the schema fully up or down and reports the versions it moved between.
// ErrNoChange is returned, along with the unchanged Result, when there was nothing to do.
func Run(dsn, direction string) (Result, error) {
	if dsn == "" {
		return Result{}, errors.New("DATABASE_URL is not set")
	}
	var step func(*migrate.Migrate) error
	switch direction {
	case "up":
		step = (*migrate.Migrate).Up
	case "down":
		step = (*migrate.Migrate).Down
	default:
		return Result{}, fmt.Errorf("direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(db.MigrationFS, dir)
	if err != nil {
		return Result{}, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return Result{}, fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	var res Result
	if res.From, err = version(m); err != nil {
		return res, err
	}
	runErr := step(m)
	if res.To, err = version(m); err != nil {
		return res, err
	}
	if runErr != nil {
		return res, runErr
	}
	zap.L().Info("schema migrated",
		zap.String("direction", direction),
		zap.Uint("from", res.From),
		zap.Uint("to", res.To))
	return res, nil
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, err
	case dirty:
		return v, fmt.Errorf("schema version %d is dirty; fix it and force the version", v)
	}
	return v, nil
}
