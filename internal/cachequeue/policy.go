package cachequeue

import (
	"context"
	"time"
)

// Policy is the set of toggles and limits read at every start.
type Policy struct {
	Offline                bool
	Metered                bool
	ManualCachingOnMetered bool
	MinFreeSpace           int64
	MaxRetries             int
	RetryDelay             time.Duration
}

// AllowsCaching reports whether downloads may run on the current network.
func (p Policy) AllowsCaching() bool {
	if p.Offline {
		return false
	}
	return !p.Metered || p.ManualCachingOnMetered
}

// PolicySource supplies the current Policy.
type PolicySource interface {
	Policy(ctx context.Context) Policy
}

// StaticPolicy always returns the same Policy.
type StaticPolicy Policy

func (p StaticPolicy) Policy(context.Context) Policy {
	return Policy(p)
}

// SettingsReader is the part of the settings store the policy reads.
type SettingsReader interface {
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
	GetInt64(ctx context.Context, key string, fallback int64) (int64, error)
}

// Setting keys read by SettingsPolicy.
type SettingKeys struct {
	Offline                string
	Metered                string
	ManualCachingOnMetered string
	MinFreeSpace           string
}

// SettingsPolicy layers runtime toggles from the settings table over
// configured defaults. A failed read falls back to the default.
type SettingsPolicy struct {
	settings SettingsReader
	keys     SettingKeys
	defaults Policy
}

func NewSettingsPolicy(settings SettingsReader, keys SettingKeys, defaults Policy) *SettingsPolicy {
	return &SettingsPolicy{settings: settings, keys: keys, defaults: defaults}
}

func (s *SettingsPolicy) Policy(ctx context.Context) Policy {
	p := s.defaults
	p.Offline, _ = s.settings.GetBool(ctx, s.keys.Offline, p.Offline)
	p.Metered, _ = s.settings.GetBool(ctx, s.keys.Metered, p.Metered)
	p.ManualCachingOnMetered, _ = s.settings.GetBool(ctx, s.keys.ManualCachingOnMetered, p.ManualCachingOnMetered)
	p.MinFreeSpace, _ = s.settings.GetInt64(ctx, s.keys.MinFreeSpace, p.MinFreeSpace)
	return p
}
