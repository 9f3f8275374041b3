package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Env != "development" {
		t.Errorf("Expected Env to be development, got %s", cfg.Env)
	}

	if cfg.KIS.BaseURL != "https://openapi.koreainvestment.com:9443" {
		t.Errorf("Unexpected KIS BaseURL: %s", cfg.KIS.BaseURL)
	}

	if cfg.Screener.TopN != 50 {
		t.Errorf("Expected Screener TopN to be 50, got %d", cfg.Screener.TopN)
	}

	if cfg.Screener.PaceInterval != 200*time.Millisecond {
		t.Errorf("Expected PaceInterval 200ms, got %s", cfg.Screener.PaceInterval)
	}

	if !cfg.Screener.ExcludeETF {
		t.Error("Expected ExcludeETF default to be true")
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	os.Setenv("ENV", "production")
	os.Setenv("SCREENER_TOP_N", "30")
	os.Setenv("SCREENER_PACE_INTERVAL", "500ms")
	os.Setenv("LOG_LEVEL", "debug")

	defer func() {
		os.Unsetenv("ENV")
		os.Unsetenv("SCREENER_TOP_N")
		os.Unsetenv("SCREENER_PACE_INTERVAL")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("Expected Env to be production, got %s", cfg.Env)
	}

	if cfg.Screener.TopN != 30 {
		t.Errorf("Expected Screener TopN to be 30, got %d", cfg.Screener.TopN)
	}

	if cfg.Screener.PaceInterval != 500*time.Millisecond {
		t.Errorf("Expected PaceInterval 500ms, got %s", cfg.Screener.PaceInterval)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
}

func TestValidateInvalidEnv(t *testing.T) {
	os.Setenv("ENV", "invalid")
	defer os.Unsetenv("ENV")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for invalid ENV, got nil")
	}
}

func TestValidateInvalidTopN(t *testing.T) {
	os.Setenv("SCREENER_TOP_N", "0")
	defer os.Unsetenv("SCREENER_TOP_N")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for zero SCREENER_TOP_N, got nil")
	}
}
