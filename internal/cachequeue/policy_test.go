package cachequeue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cesargomez89/navicache/internal/store"
)

func TestSettingsPolicy(t *testing.T) {
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	settings := store.NewSettingsRepo(db)
	keys := SettingKeys{
		Offline:                store.SettingOfflineMode,
		Metered:                store.SettingMetered,
		ManualCachingOnMetered: store.SettingManualCachingOnMetered,
		MinFreeSpace:           store.SettingMinFreeSpace,
	}
	defaults := Policy{MinFreeSpace: 25, MaxRetries: 5, RetryDelay: 1500 * time.Millisecond}
	src := NewSettingsPolicy(settings, keys, defaults)

	if diff := cmp.Diff(defaults, src.Policy(ctx)); diff != "" {
		t.Errorf("Expected defaults without settings (-want +got):\n%s", diff)
	}

	if err := settings.SetBool(ctx, store.SettingMetered, true); err != nil {
		t.Fatalf("SetBool failed: %v", err)
	}
	if err := settings.SetInt64(ctx, store.SettingMinFreeSpace, 1<<20); err != nil {
		t.Fatalf("SetInt64 failed: %v", err)
	}

	want := defaults
	want.Metered = true
	want.MinFreeSpace = 1 << 20
	if diff := cmp.Diff(want, src.Policy(ctx)); diff != "" {
		t.Errorf("Expected settings over defaults (-want +got):\n%s", diff)
	}
}

func TestPolicy_AllowsCaching(t *testing.T) {
	tests := []struct {
		name string
		p    Policy
		want bool
	}{
		{name: "online", p: Policy{}, want: true},
		{name: "offline", p: Policy{Offline: true}, want: false},
		{name: "metered", p: Policy{Metered: true}, want: false},
		{name: "metered manual", p: Policy{Metered: true, ManualCachingOnMetered: true}, want: true},
		{name: "offline wins", p: Policy{Offline: true, ManualCachingOnMetered: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.AllowsCaching(); got != tt.want {
				t.Errorf("AllowsCaching() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogNotifier_KeepsRecent(t *testing.T) {
	n := NewLogNotifier(nil, 2)
	n.Notice("one")
	n.Notice("two")
	n.Alert(context.Canceled)

	recent := n.Recent()
	if len(recent) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(recent))
	}
	if recent[0].Message != "two" || recent[1].Level != "alert" {
		t.Errorf("Unexpected notifications: %+v", recent)
	}
}
