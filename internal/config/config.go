package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	StagingAuto   = "auto"
	StagingAlways = "always"
	StagingOff    = "off"
)

type Config struct {
	Relay     RelayConfig
	Provider  ProviderConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
	Booth     BoothConfig
}

type RelayConfig struct {
	Addr            string
	StaticDir       string
	AllowedOrigins  []string
	MaxBodyBytes    int64
	MaxInFlight     int
	AcquireTimeout  time.Duration
	ProviderTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Staging         string
	ArtifactPrefix  string
	ArtifactURLTTL  time.Duration
	CleanupTimeout  time.Duration
	SuccessMessage  string
}

type ProviderConfig struct {
	Name      string
	Prompt    string
	Imagen    ImagenConfig
	Replicate ReplicateConfig
	OpenAI    OpenAIConfig
}

type ImagenConfig struct {
	ProjectID     string
	Region        string
	Model         string
	BaseURL       string
	AccessToken   string
	EditMode      string
	MaskMode      string
	MaskClasses   []int
	SafetySetting string
}

type ReplicateConfig struct {
	APIToken     string
	BaseURL      string
	Model        string
	ImageField   string
	PollInterval time.Duration
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Size           string
	ResponseFormat string
}

type QueueConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type RateLimitConfig struct {
	Enabled       bool
	Capacity      int
	Window        time.Duration
	CostUnitBytes int64
	SubjectHeader string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type BoothConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
	MaxDimension   int
	DownloadName   string
	JPEGQuality    int
	Sepia          float64
	Contrast       float64
	Saturation     float64
	Vignette       float64
	ShareTitle     string
	ShareText      string
	ShareURL       string
	ShareFallback  string
	ShareWebhook   string
	ShareSecret    string
}

// Load reads a .env file from the working directory when present and then
// builds the configuration from the environment.
func Load() Config {
	_ = godotenv.Load()

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		Relay: RelayConfig{
			Addr:            env("VINTAGEBOOTH_RELAY_ADDR", ":3001"),
			StaticDir:       env("RELAY_STATIC_DIR", ""),
			AllowedOrigins:  envList("RELAY_ALLOWED_ORIGINS", []string{"*"}),
			MaxBodyBytes:    int64(envInt("RELAY_MAX_BODY_BYTES", 50<<20)),
			MaxInFlight:     envInt("RELAY_MAX_IN_FLIGHT", max(2, runtime.NumCPU())),
			AcquireTimeout:  envDuration("RELAY_ACQUIRE_TIMEOUT", 10*time.Second),
			ProviderTimeout: envDuration("RELAY_PROVIDER_TIMEOUT", 90*time.Second),
			MaxAttempts:     envInt("RELAY_PROVIDER_MAX_ATTEMPTS", 3),
			InitialBackoff:  envDuration("RELAY_PROVIDER_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      envDuration("RELAY_PROVIDER_MAX_BACKOFF", 5*time.Second),
			Staging:         strings.ToLower(env("RELAY_STAGING", StagingAuto)),
			ArtifactPrefix:  env("RELAY_ARTIFACT_PREFIX", "input"),
			ArtifactURLTTL:  envDuration("RELAY_ARTIFACT_URL_TTL", 15*time.Minute),
			CleanupTimeout:  envDuration("RELAY_CLEANUP_TIMEOUT", 10*time.Second),
			SuccessMessage:  env("RELAY_SUCCESS_MESSAGE", "Here is your image."),
		},
		Provider: ProviderConfig{
			Name:   strings.ToLower(env("PROVIDER", "local")),
			Prompt: env("PROVIDER_PROMPT", "Turn this photo into an early 1900s sepia portrait. Keep the same faces, expressions and poses."),
			Imagen: ImagenConfig{
				ProjectID:     env("GOOGLE_CLOUD_PROJECT_ID", ""),
				Region:        env("GOOGLE_CLOUD_REGION", "us-central1"),
				Model:         env("IMAGEN_MODEL", "imagen-3.0-capability-001"),
				BaseURL:       env("IMAGEN_BASE_URL", ""),
				AccessToken:   env("IMAGEN_ACCESS_TOKEN", ""),
				EditMode:      env("IMAGEN_EDIT_MODE", "EDIT_MODE_BGSWAP"),
				MaskMode:      env("IMAGEN_MASK_MODE", "MASK_MODE_BACKGROUND"),
				MaskClasses:   envIntList("IMAGEN_MASK_CLASSES"),
				SafetySetting: env("IMAGEN_SAFETY_SETTING", "block_some"),
			},
			Replicate: ReplicateConfig{
				APIToken:     env("REPLICATE_API_TOKEN", ""),
				BaseURL:      env("REPLICATE_BASE_URL", "https://api.replicate.com"),
				Model:        env("REPLICATE_MODEL", "recraft-ai/recraft-v3"),
				ImageField:   env("REPLICATE_IMAGE_FIELD", "image"),
				PollInterval: envDuration("REPLICATE_POLL_INTERVAL", time.Second),
			},
			OpenAI: OpenAIConfig{
				APIKey:         env("OPENAI_API_KEY", ""),
				BaseURL:        env("OPENAI_BASE_URL", ""),
				Model:          env("OPENAI_IMAGE_MODEL", "dall-e-2"),
				Size:           env("OPENAI_IMAGE_SIZE", "1024x1024"),
				ResponseFormat: env("OPENAI_RESPONSE_FORMAT", "b64_json"),
			},
		},
		Queue: QueueConfig{
			Enabled:       envBool("CLEANUP_QUEUE_ENABLED", false),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ""),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "vintagebooth-uploads"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 30),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			CostUnitBytes: int64(envInt("RATE_LIMIT_COST_UNIT_BYTES", 1<<20)),
			SubjectHeader: env("RATE_LIMIT_SUBJECT_HEADER", "X-Forwarded-For"),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "vintagebooth"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		Booth: BoothConfig{
			Endpoint:       env("BOOTH_ENDPOINT", "http://localhost:3001/api/transform"),
			RequestTimeout: envDuration("BOOTH_REQUEST_TIMEOUT", 3*time.Minute),
			MaxDimension:   envInt("BOOTH_MAX_DIMENSION", 0),
			DownloadName:   env("BOOTH_DOWNLOAD_NAME", "vintage-portrait.jpg"),
			JPEGQuality:    envInt("BOOTH_JPEG_QUALITY", 92),
			Sepia:          envFloat("BOOTH_FILTER_SEPIA", 0.6),
			Contrast:       envFloat("BOOTH_FILTER_CONTRAST", 1.1),
			Saturation:     envFloat("BOOTH_FILTER_SATURATION", 0.85),
			Vignette:       envFloat("BOOTH_FILTER_VIGNETTE", 0.35),
			ShareTitle:     env("BOOTH_SHARE_TITLE", "My 1905 portrait"),
			ShareText:      env("BOOTH_SHARE_TEXT", "Look at me back in 1905!"),
			ShareURL:       env("BOOTH_SHARE_URL", "http://localhost:3001/"),
			ShareFallback:  env("BOOTH_SHARE_FALLBACK", "Share this photo on Instagram with the hashtag #BackInTime"),
			ShareWebhook:   env("BOOTH_SHARE_WEBHOOK_URL", ""),
			ShareSecret:    env("BOOTH_SHARE_WEBHOOK_SECRET", ""),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envIntList parses a comma separated list of integers. Entries that are not
// integers are skipped.
func envIntList(key string) []int {
	var out []int
	for _, part := range strings.Split(env(key, ""), ",") {
		if parsed, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
