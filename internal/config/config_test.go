package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.WSURL != "ws://localhost:8090/ws" {
		t.Fatalf("expected default ws url, got %q", cfg.WSURL)
	}
	if cfg.Mode != "provider" || !cfg.ASRStreaming {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.VADMinSpeech != 300*time.Millisecond || cfg.VADSilence != 700*time.Millisecond {
		t.Fatalf("unexpected vad defaults %v %v", cfg.VADMinSpeech, cfg.VADSilence)
	}
}

func TestLoadReadsEnvFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stage.env")
	content := "EMA_STAGE_MODE=agent\nEMA_STAGE_AGENT_ENGINE=tutor\nEMA_STAGE_USER_ID=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("expected env file to be written, got %v", err)
	}

	t.Setenv("EMA_STAGE_USER_ID", "from-env")
	t.Setenv("EMA_STAGE_VAD_SILENCE_MS", "900")
	t.Setenv("EMA_STAGE_ACTION_TOKENS", "true")
	// godotenv sets these for the process; clear them for later tests.
	t.Setenv("EMA_STAGE_MODE", "")
	os.Unsetenv("EMA_STAGE_MODE")
	t.Setenv("EMA_STAGE_AGENT_ENGINE", "")
	os.Unsetenv("EMA_STAGE_AGENT_ENGINE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected env file to load, got %v", err)
	}
	if cfg.Mode != "agent" || cfg.AgentEngine != "tutor" {
		t.Fatalf("expected values from file, got mode %q engine %q", cfg.Mode, cfg.AgentEngine)
	}
	if cfg.UserID != "from-env" {
		t.Fatalf("expected environment to win over file, got %q", cfg.UserID)
	}
	if cfg.VADSilence != 900*time.Millisecond || !cfg.ActionTokens {
		t.Fatalf("unexpected parsed values %+v", cfg)
	}
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("EMA_STAGE_VAD_MIN_SPEECH_MS", "soon")
	t.Setenv("EMA_STAGE_ASR_STREAMING", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if cfg.VADMinSpeech != 300*time.Millisecond {
		t.Fatalf("expected default min speech, got %v", cfg.VADMinSpeech)
	}
	if !cfg.ASRStreaming {
		t.Fatalf("expected default streaming flag")
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected an error for a missing explicit file")
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cfg := Default()
	cfg.Mode = "chat"
	cfg.AudioDevice = "alsa"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
