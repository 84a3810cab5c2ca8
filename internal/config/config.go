package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure from Validate and LoadRules.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds discovery, probing, sampling and output settings.
// Load from env (optionally seeded from a .env file); cobra flags override individual fields.
type Config struct {
	// Discovery (Quake search API)
	QuakeToken   string
	QuakeURL     string
	HotelSize    int      // results requested for the hotel fingerprint query
	GatewaySize  int      // results requested per city/ISP udpxy query
	Cities       []string // provinces/cities for udpxy discovery, e.g. 北京
	ISPs         []string // ISP names without the 中国 prefix, e.g. 电信
	DiscoveryRPS int      // discovery queries per second (go.uber.org/ratelimit)

	// Paths
	StatePath       string // JSON sidecar, e.g. data/iptv.json
	OutputPath      string // primary txt playlist, e.g. hotel.txt
	M3UOutputPath   string // optional extended M3U next to the txt playlist; "" = disabled
	MulticastOutput string // txt playlist for udpxy gateways
	TemplatesDir    string // per-province multicast templates (<dir>/<province>.txt)
	RulesFile       string // optional YAML name/filter/group overrides
	HistoryDB       string // optional SQLite run history; "" = disabled
	MetricsFile     string // optional Prometheus textfile export; "" = disabled

	// Concurrency and timeouts
	ProbeConcurrency  int
	SampleConcurrency int
	HostConcurrency   int     // max in-flight requests per host in the shared client
	RequestsPerSecond float64 // global request rate in the shared client; 0 = unlimited
	ProbeTimeout      time.Duration
	SegmentTimeout    time.Duration
	GatewayTimeout    time.Duration
	WindowDuration    time.Duration
	SampleBudget      time.Duration
	DiscoveryTimeout  time.Duration

	// Ranking
	SampleStrategy   string  // "segment" | "window"
	SortByResolution bool    // -resolution area tie-break before -speed
	SpeedThreshold   float64 // MB/s; channels at or below are not rendered
	SampleMulticast  bool    // measure udpxy streams instead of trusting the gateway status page
	HistorySeedSpeed float64 // min speed for history rows that seed hotel candidates; 0 = no seeding

	// Serve
	ListenAddr  string
	StateMaxAge time.Duration // /readyz fails when the state file is older; 0 = any age

	// Logging
	LogLevel  string
	LogFormat string // "console" | "json" | "" (auto)
}

// Load reads config from environment. Call LoadEnvFile(".env") before Load() to use a .env file.
func Load() *Config {
	c := &Config{
		QuakeToken:   quakeToken(),
		QuakeURL:     getEnv("IPTV_SCOUT_QUAKE_URL", "https://quake.360.net/api/v3/search/quake_service"),
		HotelSize:    getEnvInt("IPTV_SCOUT_HOTEL_SIZE", 10),
		GatewaySize:  getEnvInt("IPTV_SCOUT_GATEWAY_SIZE", 20),
		Cities:       getEnvList("IPTV_SCOUT_CITIES", []string{"北京"}),
		ISPs:         getEnvList("IPTV_SCOUT_ISPS", []string{"电信", "联通"}),
		DiscoveryRPS: getEnvInt("IPTV_SCOUT_DISCOVERY_RPS", 1),

		StatePath:       getEnv("IPTV_SCOUT_STATE", "data/iptv.json"),
		OutputPath:      getEnv("IPTV_SCOUT_OUTPUT", "hotel.txt"),
		M3UOutputPath:   os.Getenv("IPTV_SCOUT_M3U_OUTPUT"),
		MulticastOutput: getEnv("IPTV_SCOUT_MULTICAST_OUTPUT", "multicast.txt"),
		TemplatesDir:    getEnv("IPTV_SCOUT_TEMPLATES_DIR", "data/udp"),
		RulesFile:       os.Getenv("IPTV_SCOUT_RULES_FILE"),
		HistoryDB:       os.Getenv("IPTV_SCOUT_HISTORY_DB"),
		MetricsFile:     os.Getenv("IPTV_SCOUT_METRICS_FILE"),

		ProbeConcurrency:  getEnvInt("IPTV_SCOUT_PROBE_CONCURRENCY", 8),
		SampleConcurrency: getEnvInt("IPTV_SCOUT_SAMPLE_CONCURRENCY", 16),
		HostConcurrency:   getEnvInt("IPTV_SCOUT_HOST_CONCURRENCY", 4),
		RequestsPerSecond: getEnvFloat("IPTV_SCOUT_REQUESTS_PER_SECOND", 0),
		ProbeTimeout:      getEnvDuration("IPTV_SCOUT_PROBE_TIMEOUT", 2*time.Second),
		SegmentTimeout:    getEnvDuration("IPTV_SCOUT_SEGMENT_TIMEOUT", 2*time.Second),
		GatewayTimeout:    getEnvDuration("IPTV_SCOUT_GATEWAY_TIMEOUT", 3*time.Second),
		WindowDuration:    getEnvDuration("IPTV_SCOUT_WINDOW", 2*time.Second),
		SampleBudget:      getEnvDuration("IPTV_SCOUT_SAMPLE_BUDGET", 10*time.Second),
		DiscoveryTimeout:  getEnvDuration("IPTV_SCOUT_DISCOVERY_TIMEOUT", 10*time.Second),

		SampleStrategy:   getEnvStrategy("IPTV_SCOUT_SAMPLE_STRATEGY", "segment"),
		SortByResolution: getEnvBool("IPTV_SCOUT_SORT_BY_RESOLUTION", true),
		SpeedThreshold:   getEnvFloat("IPTV_SCOUT_SPEED_THRESHOLD", 0.3),
		SampleMulticast:  getEnvBool("IPTV_SCOUT_SAMPLE_MULTICAST", false),
		HistorySeedSpeed: getEnvFloat("IPTV_SCOUT_HISTORY_SEED_SPEED", 0),

		ListenAddr:  getEnv("IPTV_SCOUT_LISTEN", ":8080"),
		StateMaxAge: getEnvDuration("IPTV_SCOUT_STATE_MAX_AGE", 0),

		LogLevel:  getEnv("IPTV_SCOUT_LOG_LEVEL", "info"),
		LogFormat: os.Getenv("IPTV_SCOUT_LOG_FORMAT"),
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 8
	}
	if c.SampleConcurrency <= 0 {
		c.SampleConcurrency = 16
	}
	if c.HostConcurrency <= 0 {
		c.HostConcurrency = 4
	}
	if c.DiscoveryRPS <= 0 {
		c.DiscoveryRPS = 1
	}
	if c.SampleBudget <= 0 {
		c.SampleBudget = 10 * time.Second
	}
	return c
}

// quakeToken prefers IPTV_SCOUT_QUAKE_TOKEN, then the TOKEN_360 / token_360 names older deployments export.
func quakeToken() string {
	for _, k := range []string{"IPTV_SCOUT_QUAKE_TOKEN", "TOKEN_360", "token_360"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports the first setting that cannot drive a run.
func (c *Config) Validate() error {
	switch {
	case c.SampleStrategy != "segment" && c.SampleStrategy != "window":
		return fmt.Errorf("%w: sample strategy %q (want segment or window)", ErrInvalidConfig, c.SampleStrategy)
	case c.SpeedThreshold < 0:
		return fmt.Errorf("%w: speed threshold %v is negative", ErrInvalidConfig, c.SpeedThreshold)
	case c.ProbeTimeout <= 0 || c.SegmentTimeout <= 0 || c.GatewayTimeout <= 0 || c.WindowDuration <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.OutputPath == "":
		return fmt.Errorf("%w: output path is empty", ErrInvalidConfig)
	case c.RequestsPerSecond < 0:
		return fmt.Errorf("%w: requests per second %v is negative", ErrInvalidConfig, c.RequestsPerSecond)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated value, dropping blanks. Both ASCII and full-width commas separate.
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '，' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// getEnvStrategy returns "segment" or "window"; unknown values are kept so Validate can report them.
func getEnvStrategy(key, defaultVal string) string {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return defaultVal
	case "a", "segment", "segment-probe":
		return "segment"
	case "b", "window", "streaming-window":
		return "window"
	}
	return v
}
