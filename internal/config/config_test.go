package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay-config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `{
	"server": {"addr": ":8080"},
	"engine": {"api_key": "sk-test", "assistant_id": "asst_1"},
	"userstore": {"driver": "sqlite", "dsn": ":memory:"}
}`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected engine base url %q", cfg.Engine.BaseURL)
	}
	if cfg.Engine.PollInterval.Duration != time.Second {
		t.Errorf("expected 1s poll interval, got %s", cfg.Engine.PollInterval)
	}
	if cfg.Engine.MaxWait.Duration != 2*time.Minute {
		t.Errorf("expected 2m max wait, got %s", cfg.Engine.MaxWait)
	}
	if cfg.Quota.DailyLimit != 100 {
		t.Errorf("expected daily limit 100, got %d", cfg.Quota.DailyLimit)
	}
	if cfg.Delivery.Mode != "blocking" {
		t.Errorf("expected blocking delivery, got %q", cfg.Delivery.Mode)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("expected wildcard origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 || cfg.RateLimit.Burst != 20 {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			"no addr",
			`{"engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "sqlite", "dsn": "x"}}`,
			"server.addr",
		},
		{
			"no api key",
			`{"server": {"addr": ":8080"}, "engine": {"assistant_id": "a"}, "userstore": {"driver": "sqlite", "dsn": "x"}}`,
			"engine.api_key",
		},
		{
			"no assistant id",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k"}, "userstore": {"driver": "sqlite", "dsn": "x"}}`,
			"engine.assistant_id",
		},
		{
			"backendless without base url",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "backendless"}}`,
			"userstore.base_url",
		},
		{
			"sqlite without dsn",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "sqlite"}}`,
			"userstore.dsn",
		},
		{
			"unknown driver",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "redis"}}`,
			"unsupported userstore driver",
		},
		{
			"unknown delivery mode",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "sqlite", "dsn": "x"}, "delivery": {"mode": "smoke-signal"}}`,
			"unsupported delivery mode",
		},
		{
			"billing enabled without key",
			`{"server": {"addr": ":8080"}, "engine": {"api_key": "k", "assistant_id": "a"}, "userstore": {"driver": "sqlite", "dsn": "x"}, "billing": {"enabled": true}}`,
			"billing.stripe_secret_key",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad_FileMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{`"1s"`, time.Second, true},
		{`"250ms"`, 250 * time.Millisecond, true},
		{`"2m"`, 2 * time.Minute, true},
		{`5`, 5 * time.Second, true}, // bare numbers are seconds
		{`"bogus"`, 0, false},
		{`true`, 0, false},
	}

	for _, tc := range cases {
		var d Duration
		err := json.Unmarshal([]byte(tc.in), &d)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.in)
			}
			continue
		}
		if d.Duration != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.in, tc.want, d.Duration)
		}
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var back Duration
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Duration != d.Duration {
		t.Errorf("round trip changed value: %s != %s", back.Duration, d.Duration)
	}
}
