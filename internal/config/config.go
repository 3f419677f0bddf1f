package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Endpoint         string
	Username         string
	Language         string
	HandshakeTimeout time.Duration

	FrameSource     string // "camera" or a path to a JPEG file/directory
	CameraDevice    int
	CaptureWidth    int
	CaptureHeight   int
	JPEGQuality     int
	CaptureInterval time.Duration
	InFlightTimeout time.Duration

	ReferenceWidth  int // Rozdzielczość, w której backend raportuje ramki
	ReferenceHeight int
	ViewportWidth   int // 0 = mierzone z pierwszej klatki
	ViewportHeight  int

	Port        int
	ViewerToken string

	JournalPath          string // pusty = journal wyłączony
	JournalBufferLimit   int
	JournalFlushInterval time.Duration

	LogDirectory string // pusty = tylko stdout/stderr
	LogLevel     string
}

var (
	ErrMissingEndpoint = errors.New("DETECT_ENDPOINT is not set")
	ErrMissingUsername = errors.New("DETECT_USERNAME is not set")
)

// Load reads an optional .env file and builds the configuration from the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Endpoint:         getEnv("DETECT_ENDPOINT", ""),
		Username:         getEnv("DETECT_USERNAME", ""),
		Language:         getEnv("DETECT_LANGUAGE", "es"),
		HandshakeTimeout: getEnvAsSeconds("HANDSHAKE_TIMEOUT_S", 10),

		FrameSource:     getEnv("FRAME_SOURCE", "camera"),
		CameraDevice:    getEnvAsInt("CAMERA_DEVICE", 0),
		CaptureWidth:    getEnvAsInt("CAPTURE_WIDTH", 640),
		CaptureHeight:   getEnvAsInt("CAPTURE_HEIGHT", 480),
		JPEGQuality:     getEnvAsInt("JPEG_QUALITY", 80),
		CaptureInterval: getEnvAsMillis("CAPTURE_INTERVAL_MS", 500), // ~2 klatki na sekundę
		InFlightTimeout: getEnvAsMillis("INFLIGHT_TIMEOUT_MS", 5000),

		ReferenceWidth:  getEnvAsInt("REFERENCE_WIDTH", 640),
		ReferenceHeight: getEnvAsInt("REFERENCE_HEIGHT", 480),
		ViewportWidth:   getEnvAsInt("VIEWPORT_WIDTH", 0),
		ViewportHeight:  getEnvAsInt("VIEWPORT_HEIGHT", 0),

		Port:        getEnvAsInt("PORT", 8090),
		ViewerToken: getEnv("VIEWER_TOKEN", ""),

		JournalPath:          getEnvOptional("JOURNAL_PATH", filepath.Join(".", "data", "detections.db")),
		JournalBufferLimit:   getEnvAsInt("JOURNAL_BUFFER_LIMIT", 50),
		JournalFlushInterval: getEnvAsSeconds("JOURNAL_FLUSH_INTERVAL", 10),

		LogDirectory: getEnvOptional("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings a streaming session cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, ErrMissingEndpoint)
	}
	if c.Username == "" {
		errs = append(errs, ErrMissingUsername)
	}
	return errors.Join(errs...)
}

// UsesCamera reports whether frames come from a capture device rather than files.
func (c *Config) UsesCamera() bool {
	return c.FrameSource == "" || c.FrameSource == "camera"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOptional keeps an explicitly empty value, so KEY= turns the feature off.
func getEnvOptional(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

func getEnvAsSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Second
}
