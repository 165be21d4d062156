// Package config loads the terminal client settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	scopeName = "github.com/koscakluka/ema-stage/internal/config"

	envPrefix = "EMA_STAGE_"
)

var logger = otelslog.NewLogger(scopeName)

type Config struct {
	WSURL      string
	WSToken    string
	ModuleName string
	APIBaseURL string

	UserID          string
	ProfileID       string
	Mode            string
	Provider        string
	AgentEngine     string
	DeveloperPrompt string
	ActionTokens    bool

	ASREngine    string
	ASRModel     string
	ASRLanguage  string
	ASRStreaming bool
	ASRBackend   string

	VADMinSpeech time.Duration
	VADSilence   time.Duration
	AudioDevice  string

	StorePath string
}

func Default() Config {
	return Config{
		WSURL:        "ws://localhost:8090/ws",
		ModuleName:   "ema:stage-cli",
		APIBaseURL:   "http://localhost:8090",
		UserID:       "whale",
		ProfileID:    "whale-learning-assistant",
		Mode:         "provider",
		ASREngine:    "default",
		ASRStreaming: true,
		ASRBackend:   "backend",
		VADMinSpeech: 300 * time.Millisecond,
		VADSilence:   700 * time.Millisecond,
		AudioDevice:  "miniaudio",
	}
}

// Load reads EMA_STAGE_* variables, first seeding the environment from the
// given .env files (".env" when none are given). A missing .env file is not
// an error. Variables already set in the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	explicit := len(envFiles) > 0
	if !explicit {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := Default()
	cfg.WSURL = stringVar("WS_URL", cfg.WSURL)
	cfg.WSToken = stringVar("WS_TOKEN", cfg.WSToken)
	cfg.ModuleName = stringVar("MODULE_NAME", cfg.ModuleName)
	cfg.APIBaseURL = stringVar("API_BASE_URL", cfg.APIBaseURL)
	cfg.UserID = stringVar("USER_ID", cfg.UserID)
	cfg.ProfileID = stringVar("PROFILE_ID", cfg.ProfileID)
	cfg.Mode = stringVar("MODE", cfg.Mode)
	cfg.Provider = stringVar("PROVIDER", cfg.Provider)
	cfg.AgentEngine = stringVar("AGENT_ENGINE", cfg.AgentEngine)
	cfg.DeveloperPrompt = stringVar("DEVELOPER_PROMPT", cfg.DeveloperPrompt)
	cfg.ActionTokens = boolVar("ACTION_TOKENS", cfg.ActionTokens)
	cfg.ASREngine = stringVar("ASR_ENGINE", cfg.ASREngine)
	cfg.ASRModel = stringVar("ASR_MODEL", cfg.ASRModel)
	cfg.ASRLanguage = stringVar("ASR_LANGUAGE", cfg.ASRLanguage)
	cfg.ASRStreaming = boolVar("ASR_STREAMING", cfg.ASRStreaming)
	cfg.ASRBackend = stringVar("ASR_BACKEND", cfg.ASRBackend)
	cfg.VADMinSpeech = millisVar("VAD_MIN_SPEECH_MS", cfg.VADMinSpeech)
	cfg.VADSilence = millisVar("VAD_SILENCE_MS", cfg.VADSilence)
	cfg.AudioDevice = stringVar("AUDIO_DEVICE", cfg.AudioDevice)
	cfg.StorePath = stringVar("STORE_PATH", cfg.StorePath)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that select an implementation.
func (c Config) Validate() error {
	var errs []error
	if c.Mode != "provider" && c.Mode != "agent" {
		errs = append(errs, fmt.Errorf("%sMODE must be provider or agent, got %q", envPrefix, c.Mode))
	}
	if c.ASRBackend != "backend" && c.ASRBackend != "deepgram" {
		errs = append(errs, fmt.Errorf("%sASR_BACKEND must be backend or deepgram, got %q", envPrefix, c.ASRBackend))
	}
	if c.AudioDevice != "miniaudio" && c.AudioDevice != "portaudio" {
		errs = append(errs, fmt.Errorf("%sAUDIO_DEVICE must be miniaudio or portaudio, got %q", envPrefix, c.AudioDevice))
	}
	return errors.Join(errs...)
}

func stringVar(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func boolVar(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("invalid boolean, using default", "key", envPrefix+key, "value", raw, "default", fallback)
		return fallback
	}
	return v
}

func millisVar(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || ms < 0 {
		logger.Warn("invalid duration, using default", "key", envPrefix+key, "value", raw, "default", fallback)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
