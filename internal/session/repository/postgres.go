package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"devicetrust/internal/session/domain"
)

const table = "session_records"

var columns = []string{
	"id",
	"user_id",
	"device_stable_id",
	"device_fingerprint",
	"device_name",
	"device_type",
	"device_type_locked",
	"browser_info",
	"operating_system",
	"platform_type",
	"ip_address",
	"geo_city",
	"geo_country",
	"geo_country_code",
	"geo_latitude",
	"geo_longitude",
	"is_trusted",
	"is_active",
	"session_status",
	"login_count",
	"last_activity",
	"created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore is the Store backed by the session_records table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore returns a session store that uses db for persistence.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertByFilter updates the newest matching row and returns it, or nil if no row matched.
func (s *PostgresStore) UpsertByFilter(ctx context.Context, filter domain.Filter, patch domain.Patch) (*domain.Record, error) {
	if patch.Empty() {
		list, err := s.SelectByFilter(ctx, filter)
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return list[0], nil
	}
	newest := sq.Select("id").From(table).Where(where(filter)).OrderBy("last_activity DESC", "id").Limit(1)
	q, args, err := psql.Update(table).
		SetMap(setMap(patch)).
		Where(sq.Expr("id = (?)", newest)).
		Suffix(returning()).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := s.db.QueryRowxContext(ctx, q, args...).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SelectByFilter returns matching rows, most recently active first.
func (s *PostgresStore) SelectByFilter(ctx context.Context, filter domain.Filter) ([]*domain.Record, error) {
	q, args, err := psql.Select(columns...).From(table).Where(where(filter)).OrderBy("last_activity DESC", "id").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []domain.Record
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*domain.Record, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// Insert persists rec. ID and CreatedAt are assigned when empty.
func (s *PostgresStore) Insert(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	r := *rec
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.SessionStatus == "" {
		r.SessionStatus = domain.StatusOf(r.IsActive)
	}
	q, args, err := psql.Insert(table).Columns(columns...).Values(
		r.ID, r.UserID, r.DeviceStableID, r.DeviceFingerprint, r.DeviceName,
		r.DeviceType, r.DeviceTypeLocked, r.BrowserInfo, r.OperatingSystem, r.PlatformType,
		r.IPAddress, r.GeoCity, r.GeoCountry, r.GeoCountryCode, r.GeoLatitude, r.GeoLongitude,
		r.IsTrusted, r.IsActive, r.SessionStatus, r.LoginCount, r.LastActivity, r.CreatedAt,
	).Suffix(returning()).ToSql()
	if err != nil {
		return nil, err
	}
	var out domain.Record
	if err := s.db.QueryRowxContext(ctx, q, args...).StructScan(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMany applies patch to all matching rows.
func (s *PostgresStore) UpdateMany(ctx context.Context, filter domain.Filter, patch domain.Patch) (int64, error) {
	if patch.Empty() {
		return 0, nil
	}
	q, args, err := psql.Update(table).SetMap(setMap(patch)).Where(where(filter)).ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func where(f domain.Filter) sq.And {
	and := sq.And{}
	if f.ID != "" {
		and = append(and, sq.Eq{"id": f.ID})
	}
	if f.UserID != "" {
		and = append(and, sq.Eq{"user_id": f.UserID})
	}
	if f.ExcludeID != "" {
		and = append(and, sq.NotEq{"id": f.ExcludeID})
	}
	if f.ActiveOnly {
		and = append(and, sq.Eq{"is_active": true})
	}
	device := sq.Or{}
	if f.StableID != "" {
		device = append(device, sq.Eq{"device_stable_id": f.StableID})
	}
	if f.Fingerprint != "" {
		device = append(device, sq.Eq{"device_fingerprint": f.Fingerprint})
	}
	switch {
	case len(device) == 0:
	case f.AnyDevice:
		and = append(and, device)
	default:
		and = append(and, device...)
	}
	return and
}

func setMap(p domain.Patch) map[string]interface{} {
	m := map[string]interface{}{}
	if p.DeviceStableID != nil {
		m["device_stable_id"] = *p.DeviceStableID
	}
	if p.DeviceFingerprint != nil {
		m["device_fingerprint"] = *p.DeviceFingerprint
	}
	if p.DeviceName != nil {
		m["device_name"] = *p.DeviceName
	}
	if p.DeviceType != nil {
		m["device_type"] = *p.DeviceType
	}
	if p.DeviceTypeLocked != nil {
		m["device_type_locked"] = *p.DeviceTypeLocked
	}
	if p.BrowserInfo != nil {
		m["browser_info"] = *p.BrowserInfo
	}
	if p.OperatingSystem != nil {
		m["operating_system"] = *p.OperatingSystem
	}
	if p.PlatformType != nil {
		m["platform_type"] = *p.PlatformType
	}
	if p.IPAddress != nil {
		m["ip_address"] = *p.IPAddress
	}
	if p.Geo != nil {
		m["geo_city"] = p.Geo.City
		m["geo_country"] = p.Geo.Country
		m["geo_country_code"] = p.Geo.CountryCode
		m["geo_latitude"] = p.Geo.Latitude
		m["geo_longitude"] = p.Geo.Longitude
	}
	if p.IsTrusted != nil {
		m["is_trusted"] = *p.IsTrusted
	}
	if p.Active != nil {
		m["is_active"] = *p.Active
		m["session_status"] = domain.StatusOf(*p.Active)
	}
	if p.LastActivity != nil {
		m["last_activity"] = *p.LastActivity
	}
	if p.IncrementLoginCount {
		m["login_count"] = sq.Expr("login_count + 1")
	}
	return m
}

func returning() string {
	return "RETURNING " + strings.Join(columns, ", ")
}
