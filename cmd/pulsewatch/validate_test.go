package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunValidate_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, map[string]any{
		"intervalMinutes":  2,
		"requestTimeoutMs": 3000,
		"targets":          []string{"https://inline.example.com"},
	})
	urls := `{"urls": ["https://a.example.com", "ftp://bad.example.com"]}`
	if err := os.WriteFile(filepath.Join(dir, "urls.json"), []byte(urls), 0o644); err != nil {
		t.Fatalf("failed to write target list: %v", err)
	}

	output, err := execute(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"Schedule:      every 2m0s",
		"Timeout:       3s",
		"Targets:       2 valid of 3 listed",
		"Email alerts:  false",
	}
	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_CronSchedule(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), map[string]any{"schedule": "*/15 * * * *"})

	output, err := execute(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}
	if !strings.Contains(output, "Schedule:      */15 * * * *") {
		t.Errorf("output missing schedule\nGot: %s", output)
	}
	if !strings.Contains(output, "0 valid of 0 listed") {
		t.Errorf("missing target list should count as empty\nGot: %s", output)
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), map[string]any{"requestTimeoutMs": 0})

	_, err := execute(t, "validate", "-c", configPath)
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}
	if !strings.Contains(err.Error(), "requestTimeoutMs must be positive") {
		t.Errorf("error should mention requestTimeoutMs, got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "-c", "/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "failed to load config") {
		t.Errorf("error should mention 'failed to load config', got: %v", err)
	}
}

func TestRunValidate_BrokenTargetList(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, dir, nil)
	if err := os.WriteFile(filepath.Join(dir, "urls.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write target list: %v", err)
	}

	_, err := execute(t, "validate", "-c", configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid target list") {
		t.Errorf("validate command error = %v, want invalid target list", err)
	}
}
