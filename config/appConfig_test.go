package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfigFrom(viper.New())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Backend != LockBackendMemory {
		t.Fatalf("expected memory lock backend, got %q", cfg.Lock.Backend)
	}
	spec, err := cfg.Schedule.OpeningSpec()
	if err != nil || spec != "5 0 * * *" {
		t.Fatalf("opening spec = %q, %v", spec, err)
	}
	spec, err = cfg.Schedule.ClosingSpec()
	if err != nil || spec != "55 23 * * *" {
		t.Fatalf("closing spec = %q, %v", spec, err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil || loc.String() != "Asia/Yangon" {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestLoadAppConfigOverrides(t *testing.T) {
	v := viper.New()
	v.Set("ORG_TIMEZONE", "UTC")
	v.Set("OPENING_CAPTURE_AT", "06:30")
	v.Set("LOCK_BACKEND", "Redis")
	v.Set("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := loadAppConfigFrom(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Backend != LockBackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.Lock.Backend)
	}
	if spec, _ := cfg.Schedule.OpeningSpec(); spec != "30 6 * * *" {
		t.Fatalf("opening spec = %q", spec)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestLoadAppConfigRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]any{
		"timezone": {"ORG_TIMEZONE": "Mars/Olympus"},
		"opening":  {"OPENING_CAPTURE_AT": "25:99"},
		"closing":  {"CLOSING_CAPTURE_AT": "late"},
		"backend":  {"LOCK_BACKEND": "etcd"},
		"ttl":      {"LOCK_TTL_SECONDS": 0},
	}
	for name, values := range cases {
		v := viper.New()
		for k, val := range values {
			v.Set(k, val)
		}
		if _, err := loadAppConfigFrom(v); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
