package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	BunDebug    bool

	// Backend
	APIURL      string // always ends with "/"
	HTTPTimeout time.Duration

	// Local storage
	DataDir      string
	DatabasePath string
	PrefsPath    string

	// App behaviour
	VersionCode          int
	RefreshInterval      time.Duration
	LoginMaxAge          time.Duration
	PollInterval         time.Duration
	RegelRytterenLockout time.Duration

	// Companion API
	SessionTTL     time.Duration
	AllowedOrigins []string
}

// Load loads environment variables and returns a Config struct
func Load() *Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", defaultDataDir())

	allowedOrigins := strings.Split(
		getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		",",
	)
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	versionCode, err := strconv.Atoi(getEnv("APP_VERSION_CODE", "1"))
	if err != nil {
		log.Printf("invalid int for APP_VERSION_CODE, defaulting to 1\n")
		versionCode = 1
	}

	return &Config{
		Port:                 getEnv("APP_PORT", "8780"),
		Environment:          getEnv("ENVIRONMENT", "development"),
		LogLevel:             getEnv("LOG_LEVEL", ""),
		BunDebug:             getEnvAsBool("BUNDEBUG", false),
		APIURL:               NormalizeBaseURL(getEnv("API_URL", "http://localhost:8080/")),
		HTTPTimeout:          getEnvAsDuration("HTTP_TIMEOUT", 120*time.Second),
		DataDir:              dataDir,
		DatabasePath:         getEnv("DATABASE_PATH", filepath.Join(dataDir, "vejman.db")),
		PrefsPath:            getEnv("PREFS_PATH", filepath.Join(dataDir, "secure_prefs.json")),
		VersionCode:          versionCode,
		RefreshInterval:      getEnvAsDuration("REFRESH_INTERVAL", 5*time.Minute),
		LoginMaxAge:          getEnvAsDuration("LOGIN_MAX_AGE", 90*24*time.Hour),
		PollInterval:         getEnvAsDuration("POLL_INTERVAL", 3*time.Second),
		RegelRytterenLockout: getEnvAsDuration("REGELRYTTEREN_LOCKOUT", 300*time.Second),
		SessionTTL:           getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		AllowedOrigins:       allowedOrigins,
	}
}

// NormalizeBaseURL makes sure endpoint paths can be appended directly.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".tilsynsapp"
	}
	return filepath.Join(home, ".tilsynsapp")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return fallback
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("invalid bool for %s, defaulting to %v\n", key, fallback)
		return fallback
	}
	return val
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return fallback
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("invalid duration for %s, defaulting to %v\n", key, fallback)
		return fallback
	}
	return val
}
