package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
	}{
		{
			name:    "default config",
			envVars: map[string]string{},
			wantErr: false,
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"SERVICE_NAME":        "test-poolstats",
				"PPLNS_WINDOW_FACTOR": "3",
				"RATE_INTERVAL":       "5m",
				"ONLINE_TIMEOUT":      "15m",
			},
			wantErr: false,
		},
		{
			name: "invalid window factor",
			envVars: map[string]string{
				"PPLNS_WINDOW_FACTOR": "-1",
			},
			wantErr: true,
		},
		{
			name: "invalid donate percent",
			envVars: map[string]string{
				"DEFAULT_DONATE_PERCENT": "150",
			},
			wantErr: true,
		},
		{
			name: "wue bands inverted",
			envVars: map[string]string{
				"WUE_CRITICAL": "0.9",
				"WUE_WARNING":  "0.8",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set environment variables
			for key, value := range tt.envVars {
				if err := os.Setenv(key, value); err != nil {
					t.Fatalf("failed to set environment variable %s: %v", key, err)
				}
			}
			defer func() {
				// Clean up environment variables
				for key := range tt.envVars {
					if err := os.Unsetenv(key); err != nil {
						t.Logf("failed to unset environment variable %s: %v", key, err)
					}
				}
			}()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				// Verify some basic fields
				if cfg.ServiceName == "" {
					t.Error("ServiceName should not be empty")
				}
				if cfg.PPLNSWindowFactor <= 0 {
					t.Error("PPLNSWindowFactor should be positive")
				}
				if cfg.HashesPerDiff <= 0 {
					t.Error("HashesPerDiff should be positive")
				}
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServiceName:          "test",
			PPLNSWindowFactor:    2.0,
			SharesPerDiff:        65536,
			HashesPerDiff:        4294967296,
			RateInterval:         10 * time.Minute,
			BucketRetention:      24 * time.Hour,
			OnlineTimeout:        10 * time.Minute,
			StaleTimeout:         5 * time.Minute,
			WUECritical:          0.80,
			WUEWarning:           0.87,
			DefaultDonatePercent: 0,
			MaxClockSkew:         time.Minute,
			IngestQueueSize:      4096,
			WorkerPoolSize:       16,
		}
	}

	if err := valid().validate(); err != nil {
		t.Errorf("validate() should not fail for valid config: %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"zero window factor", func(c *Config) { c.PPLNSWindowFactor = 0 }},
		{"zero shares per diff", func(c *Config) { c.SharesPerDiff = 0 }},
		{"zero hashes per diff", func(c *Config) { c.HashesPerDiff = 0 }},
		{"zero rate interval", func(c *Config) { c.RateInterval = 0 }},
		{"retention under interval", func(c *Config) { c.BucketRetention = time.Minute }},
		{"zero online timeout", func(c *Config) { c.OnlineTimeout = 0 }},
		{"inverted wue bands", func(c *Config) { c.WUEWarning = c.WUECritical }},
		{"donate percent over 100", func(c *Config) { c.DefaultDonatePercent = 101 }},
		{"zero clock skew", func(c *Config) { c.MaxClockSkew = 0 }},
		{"zero ingest queue", func(c *Config) { c.IngestQueueSize = 0 }},
		{"zero worker pool", func(c *Config) { c.WorkerPoolSize = 0 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("validate() should fail")
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	// Test getEnv
	if err := os.Setenv("TEST_STRING", "test_value"); err != nil {
		t.Fatalf("failed to set TEST_STRING: %v", err)
	}
	defer func() {
		if err := os.Unsetenv("TEST_STRING"); err != nil {
			t.Logf("failed to unset TEST_STRING: %v", err)
		}
	}()

	if got := getEnv("TEST_STRING", "default"); got != "test_value" {
		t.Errorf("getEnv() = %v, want %v", got, "test_value")
	}

	if got := getEnv("NONEXISTENT", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want %v", got, "default")
	}

	// Test getEnvInt
	if err := os.Setenv("TEST_INT", "42"); err != nil {
		t.Fatalf("failed to set TEST_INT: %v", err)
	}
	defer func() {
		if err := os.Unsetenv("TEST_INT"); err != nil {
			t.Logf("failed to unset TEST_INT: %v", err)
		}
	}()

	if got := getEnvInt("TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt() = %v, want %v", got, 42)
	}

	if got := getEnvInt("NONEXISTENT", 99); got != 99 {
		t.Errorf("getEnvInt() = %v, want %v", got, 99)
	}

	// Test getEnvFloat
	if err := os.Setenv("TEST_FLOAT", "3.14"); err != nil {
		t.Fatalf("failed to set TEST_FLOAT: %v", err)
	}
	defer func() {
		if err := os.Unsetenv("TEST_FLOAT"); err != nil {
			t.Logf("failed to unset TEST_FLOAT: %v", err)
		}
	}()

	if got := getEnvFloat("TEST_FLOAT", 0.0); got != 3.14 {
		t.Errorf("getEnvFloat() = %v, want %v", got, 3.14)
	}

	// Test getEnvDuration
	if err := os.Setenv("TEST_DURATION", "30s"); err != nil {
		t.Fatalf("failed to set TEST_DURATION: %v", err)
	}
	defer func() {
		if err := os.Unsetenv("TEST_DURATION"); err != nil {
			t.Logf("failed to unset TEST_DURATION: %v", err)
		}
	}()

	if got := getEnvDuration("TEST_DURATION", 0); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want %v", got, 30*time.Second)
	}

	// Test getEnvSlice
	if err := os.Setenv("TEST_SLICE", "a, b,c"); err != nil {
		t.Fatalf("failed to set TEST_SLICE: %v", err)
	}
	defer func() {
		if err := os.Unsetenv("TEST_SLICE"); err != nil {
			t.Logf("failed to unset TEST_SLICE: %v", err)
		}
	}()

	got := getEnvSlice("TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("getEnvSlice() = %v, want [a b c]", got)
	}
}
