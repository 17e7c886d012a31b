package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
)

type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", persistErr("get setting", err)
	}
	return value, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, r.db.now())
	if err != nil {
		return persistErr("set setting", err)
	}
	return nil
}

func (r *SettingsRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return persistErr("delete setting", err)
	}
	return nil
}

// GetBool returns fallback when the key is unset or not a boolean.
func (r *SettingsRepo) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	value, err := r.Get(ctx, key)
	if err != nil || value == "" {
		return fallback, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

func (r *SettingsRepo) SetBool(ctx context.Context, key string, value bool) error {
	return r.Set(ctx, key, strconv.FormatBool(value))
}

// GetInt64 returns fallback when the key is unset or not an integer.
func (r *SettingsRepo) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	value, err := r.Get(ctx, key)
	if err != nil || value == "" {
		return fallback, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

func (r *SettingsRepo) SetInt64(ctx context.Context, key string, value int64) error {
	return r.Set(ctx, key, strconv.FormatInt(value, 10))
}

const (
	SettingOfflineMode            = "offline_mode"
	SettingMetered                = "metered"
	SettingManualCachingOnMetered = "manual_caching_on_metered"
	SettingMinFreeSpace           = "min_free_space"
)
