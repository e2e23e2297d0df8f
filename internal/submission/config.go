package submission

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config selects filing endpoints and bounds network behavior. Test and
// production endpoints are configured independently; neither stands in for
// the other.
type Config struct {
	TestEndpoint       string
	ProdEndpoint       string
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	RatePerMinute      int
}

func LoadConfig() Config {
	return Config{
		TestEndpoint:       getenv("MEF_TEST_ENDPOINT", ""),
		ProdEndpoint:       getenv("MEF_PROD_ENDPOINT", ""),
		RequestTimeout:     getDuration("MEF_REQUEST_TIMEOUT", 30*time.Second),
		MaxAttempts:        getInt("MEF_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getDuration("MEF_RETRY_BASE_DELAY", 500*time.Millisecond),
		BreakerFailures:    uint32(getInt("MEF_BREAKER_FAILURES", 5)),
		BreakerOpenTimeout: getDuration("MEF_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		RatePerMinute:      getInt("MEF_RATE_PER_MIN", 60),
	}
}

// Endpoint returns the base URL for the requested mode.
func (c Config) Endpoint(testMode bool) (string, error) {
	ep, mode := c.ProdEndpoint, "production"
	if testMode {
		ep, mode = c.TestEndpoint, "test"
	}
	ep = strings.TrimRight(strings.TrimSpace(ep), "/")
	if ep == "" {
		return "", &EndpointNotConfiguredError{Mode: mode}
	}
	return ep, nil
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

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
