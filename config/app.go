package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App is the process configuration read from the environment.
type App struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	JWTSecret      string
	AllowedOrigins []string

	MongoURI    string
	MongoDB     string
	PostgresURI string
	RedisAddr   string

	// emotion inference service
	FERBaseURL string
	FERTimeout time.Duration

	// language model: Vertex when GCPProject is set, REST key otherwise
	GCPProject     string
	GCPLocation    string
	GeminiModel    string
	GeminiAPIKey   string
	GeminiBaseURL  string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     time.Duration
	QuestionCount  int
	QuestionTTL    time.Duration

	STTProvider       string // google or assemblyai
	AssemblyAIKey     string
	AssemblyAIBaseURL string
	AnswerWorkers     int
	AnswerStream      string

	ElevenLabsKey     string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	GCSBucket     string
	GCSPublic     bool
	RecordingsDir string
	PublicBaseURL string
	SignedURLTTL  time.Duration

	SampleInterval    time.Duration
	DeviceOpenTimeout time.Duration
	FinalizeTimeout   time.Duration
	FinishTimeout     time.Duration
	RetainFinished    time.Duration
	AgentGrace        time.Duration
	AbandonAfter      time.Duration
	SnapshotTTL       time.Duration
	MaxAudioBytes     int
}

// Load reads .env when present, then the environment.
func Load() (*App, error) {
	_ = godotenv.Load()

	cfg := &App{
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "release"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),

		MongoURI:    os.Getenv("MONGO_URI"),
		MongoDB:     getEnv("MONGO_DB", "mockmate"),
		PostgresURI: os.Getenv("POSTGRES_URI"),
		RedisAddr:   firstEnv("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),

		FERBaseURL: getEnv("FER_BASE_URL", "http://localhost:8000"),
		FERTimeout: getEnvAsDuration("FER_TIMEOUT", 10*time.Second),

		GCPProject:     os.Getenv("GCP_PROJECT_ID"),
		GCPLocation:    getEnv("GCP_LOCATION", "us-central1"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		LLMTemperature: getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 1024),
		LLMTimeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		QuestionCount:  getEnvAsInt("QUESTION_COUNT", 3),
		QuestionTTL:    getEnvAsDuration("QUESTION_CACHE_TTL", 24*time.Hour),

		STTProvider:       strings.ToLower(getEnv("STT_PROVIDER", "google")),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		AssemblyAIBaseURL: getEnv("ASSEMBLYAI_BASE_URL", "https://api.assemblyai.com/v2"),
		AnswerWorkers:     getEnvAsInt("ANSWER_WORKERS", 3),
		AnswerStream:      getEnv("ANSWER_STREAM", "answer:stream"),

		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModelID: getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),

		GCSBucket:     os.Getenv("GCS_BUCKET"),
		GCSPublic:     getEnvAsBool("GCS_PUBLIC", false),
		RecordingsDir: getEnv("RECORDINGS_DIR", "./recordings"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		SignedURLTTL:  getEnvAsDuration("SIGNED_URL_TTL", time.Hour),

		SampleInterval:    getEnvAsDuration("EMOTION_SAMPLE_INTERVAL", time.Second),
		DeviceOpenTimeout: getEnvAsDuration("DEVICE_OPEN_TIMEOUT", 30*time.Second),
		FinalizeTimeout:   getEnvAsDuration("RECORDING_FINALIZE_TIMEOUT", 10*time.Second),
		FinishTimeout:     getEnvAsDuration("FINISH_TIMEOUT", 90*time.Second),
		RetainFinished:    getEnvAsDuration("RETAIN_FINISHED", 30*time.Minute),
		AgentGrace:        getEnvAsDuration("AGENT_GRACE", 15*time.Second),
		AbandonAfter:      getEnvAsDuration("ABANDON_AFTER", 10*time.Minute),
		SnapshotTTL:       getEnvAsDuration("SNAPSHOT_TTL", 7*24*time.Hour),
		MaxAudioBytes:     getEnvAsInt("MAX_AUDIO_BYTES", 10<<20),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set")
	}
	if cfg.STTProvider != "google" && cfg.STTProvider != "assemblyai" {
		return nil, errors.New("STT_PROVIDER must be google or assemblyai")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getEnvAsInt(key string, def int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return def
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvAsDuration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func getEnvAsList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
