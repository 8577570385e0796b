package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"desktop-commander/src/apperr"
)

const (
	EnvFileEnvVar = "DESKTOP_COMMANDER_ENV"

	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DefaultHTTPAddress    = "127.0.0.1:8765"
	DefaultFailsafeHotkey = "Ctrl+Alt+Shift+Q"
	DefaultOCRLanguage    = "eng"
	DefaultOCRPageSegMode = 3
	DefaultActionPause    = 50 * time.Millisecond

	minActionPause = 10 * time.Millisecond
	maxActionPause = 500 * time.Millisecond
)

// LoadOptions carries command-line overrides. Empty fields leave the
// environment value in place.
type LoadOptions struct {
	EnvFile     string
	Transport   string
	HTTPAddress string
	Verbose     bool
}

type Config struct {
	Transport         string
	HTTPAddress       string
	OCREngine         string
	TesseractCmd      string
	OCRLanguage       string
	OCRPageSegMode    int
	ActionPause       time.Duration
	FailsafeHotkey    string
	WorkerCount       int
	EnableFileLogging bool
	Verbose           bool
	EnvPath           string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) --env-file
	// 2) .env in the application (executable) directory
	// 3) the file named by DESKTOP_COMMANDER_ENV
	// Variables already present in the environment win over the file.
	envPath := resolveEnvPath(opts.EnvFile)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	transport, err := resolveTransport(opts.Transport)
	if err != nil {
		return nil, err
	}

	pauseMs := getEnvInt("ACTION_PAUSE_MS", int(DefaultActionPause/time.Millisecond))

	failsafe := DefaultFailsafeHotkey
	if v, ok := os.LookupEnv("FAILSAFE_HOTKEY"); ok {
		failsafe = strings.TrimSpace(v)
	}

	cfg := &Config{
		Transport:         transport,
		HTTPAddress:       firstNonEmpty(opts.HTTPAddress, getEnvWithDefault("MCP_HTTP_ADDRESS", DefaultHTTPAddress)),
		OCREngine:         strings.ToLower(getEnvWithDefault("OCR_ENGINE", "gosseract")),
		TesseractCmd:      os.Getenv("TESSERACT_CMD"),
		OCRLanguage:       getEnvWithDefault("OCR_LANG", DefaultOCRLanguage),
		OCRPageSegMode:    getEnvInt("OCR_PSM", DefaultOCRPageSegMode),
		ActionPause:       clampPause(time.Duration(pauseMs) * time.Millisecond),
		FailsafeHotkey:    failsafe,
		WorkerCount:       getEnvInt("WORKER_COUNT", runtime.NumCPU()),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		Verbose:           opts.Verbose,
		EnvPath:           envPath,
	}

	return cfg, nil
}

func resolveEnvPath(explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
	}

	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

// resolveTransport prefers the override over MCP_TRANSPORT; neither set means
// stdio.
func resolveTransport(override string) (string, error) {
	value := override
	if strings.TrimSpace(value) == "" {
		value = os.Getenv("MCP_TRANSPORT")
	}
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "", TransportStdio:
		return TransportStdio, nil
	case TransportHTTP, "streamable-http":
		return TransportHTTP, nil
	default:
		return "", apperr.Invalid("transport", "unknown transport %q (must be stdio or http)", value)
	}
}

func clampPause(d time.Duration) time.Duration {
	if d < minActionPause {
		return minActionPause
	}
	if d > maxActionPause {
		return maxActionPause
	}
	return d
}

// getEnvInt returns a positive integer from key, or defaultValue when unset
// or invalid.
func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
