package filing

import (
	"os"
	"strconv"
	"time"
)

// Config holds environment-driven settings for the orchestrator, its HTTP
// surface and receipt rendering.
type Config struct {
	ListenAddr        string
	AckStorePath      string
	RedisURL          string
	PollInterval       time.Duration
	RefreshInterval    time.Duration
	StatusCheckTimeout time.Duration
	MaxParallelChecks  int
	MaxBodyBytes       int64
	EnableAuditHash    bool
	ReceiptEnabled     bool
	PDFChromiumPath    string
	PDFTimeout         time.Duration
	ReceiptTimeZone    string
}

func LoadConfig() Config {
	return Config{
		ListenAddr:         getenv("HTTP_ADDR", ":8080"),
		AckStorePath:       getenv("ACK_STORE_PATH", "data/acknowledgments.json"),
		RedisURL:           getenv("REDIS_URL", ""),
		PollInterval:       getDuration("MEF_POLL_INTERVAL", 30*time.Second),
		RefreshInterval:    getDuration("MEF_REFRESH_INTERVAL", 0),
		StatusCheckTimeout: getDuration("MEF_STATUS_CHECK_TIMEOUT", 2*time.Minute),
		MaxParallelChecks:  getInt("MEF_MAX_PARALLEL_CHECKS", 4),
		MaxBodyBytes:       int64(getInt("MAX_REQUEST_BYTES", 1<<20)),
		EnableAuditHash:    getBool("ENABLE_AUDIT_HASH", true),
		ReceiptEnabled:     getBool("RECEIPT_PDF_ENABLED", true),
		PDFChromiumPath:    getenv("PDF_CHROMIUM_PATH", ""),
		PDFTimeout:         getDuration("PDF_TIMEOUT", 15*time.Second),
		ReceiptTimeZone:    getenv("RECEIPT_TIMEZONE", "America/New_York"),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
