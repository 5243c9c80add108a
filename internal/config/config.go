package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API
// process. Values are loaded from environment variables with defaults
// that let the binary run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaEventTopic    string

	PGDSN string

	StripeKey string

	// offer delivery fallbacks for drivers with no open websocket
	FCMEndpoint  string
	FCMKey       string
	PushEndpoint string

	// matching
	InitialRadiusKm float64
	MaxRadiusKm     float64
	CandidateLimit  int
	OfferTimeout    time.Duration
	RetryBudget     int
	DistanceWeight  float64
	RatingWeight    float64

	// geo index
	LivenessWindow time.Duration
	SweepInterval  time.Duration

	// fares
	MinSurge float64
	MaxSurge float64

	AvgSpeedKmh float64
	OSRMBaseURL string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaLocationTopic: "driver-locations",
		KafkaEventTopic:    "trip-events",
		InitialRadiusKm:    2,
		MaxRadiusKm:        16,
		CandidateLimit:     10,
		OfferTimeout:       15 * time.Second,
		RetryBudget:        8,
		DistanceWeight:     1.0,
		RatingWeight:       0.5,
		LivenessWindow:     90 * time.Second,
		SweepInterval:      30 * time.Second,
		MinSurge:           1.0,
		MaxSurge:           3.0,
		AvgSpeedKmh:        30,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaEventTopic, "KAFKA_EVENT_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeKey = os.Getenv("STRIPE_KEY")
	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")
	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))

	setFloatFromEnv(&cfg.InitialRadiusKm, "MATCH_INITIAL_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.MaxRadiusKm, "MATCH_MAX_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "MATCH_CANDIDATE_LIMIT", &errs)
	setDurationFromEnv(&cfg.OfferTimeout, "MATCH_OFFER_TIMEOUT", &errs)
	setIntFromEnv(&cfg.RetryBudget, "MATCH_RETRY_BUDGET", &errs)
	setFloatFromEnv(&cfg.DistanceWeight, "MATCH_DISTANCE_WEIGHT", &errs)
	setFloatFromEnv(&cfg.RatingWeight, "MATCH_RATING_WEIGHT", &errs)

	setDurationFromEnv(&cfg.LivenessWindow, "GEO_LIVENESS_WINDOW", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "GEO_SWEEP_INTERVAL", &errs)

	setFloatFromEnv(&cfg.MinSurge, "FARE_MIN_SURGE", &errs)
	setFloatFromEnv(&cfg.MaxSurge, "FARE_MAX_SURGE", &errs)

	setFloatFromEnv(&cfg.AvgSpeedKmh, "ETA_AVG_SPEED_KMH", &errs)
	cfg.OSRMBaseURL = strings.TrimSpace(os.Getenv("OSRM_BASE_URL"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.RetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RETRY_BUDGET must be > 0"))
	}
	if cfg.InitialRadiusKm <= 0 || cfg.MaxRadiusKm < cfg.InitialRadiusKm {
		errs = append(errs, fmt.Errorf("match radii must satisfy 0 < initial <= max"))
	}
	if cfg.MinSurge < 1.0 || cfg.MaxSurge < cfg.MinSurge {
		errs = append(errs, fmt.Errorf("surge bounds must satisfy 1.0 <= min <= max"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
