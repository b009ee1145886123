package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string // development|production
	HTTPAddr    string
	ToolURL     string // public base URL of this tool
	Frontend    string // where launches redirect after session creation
	CORSOrigins []string

	DBDriver string
	DBDSN    string

	// LTI 1.3 platform registration (single platform per deployment)
	Issuer       string
	ClientID     string
	DeploymentID string
	AuthURL      string
	TokenURL     string
	JWKSURL      string

	// Tool signing keypair (RSA, PEM). Generated at startup when absent.
	PrivateKeyPath string
	PublicKeyPath  string

	// Sessions
	SessionDriver string // memory|redis
	SessionTTL    time.Duration
	SessionSecure bool
	RedisAddr     string
	RedisPass     string

	// LLM provider
	LLMProvider   string // gemini|ollama|openai
	GeminiAPIKey  string
	GeminiModel   string
	OllamaBaseURL string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Documents
	UploadDir   string
	MaxUploadMB int64

	// Analytics
	MasteryThreshold float64

	// Dev launch (never enabled in production deployments)
	EnableDevLaunch     bool
	DevLaunchSecretHash string // bcrypt; empty means no secret required
}

func FromEnv() Config {
	env := envOr("ENV", "development")
	tool := strings.TrimSuffix(envOr("TOOL_URL", "http://localhost:8080"), "/")
	frontend := strings.TrimSuffix(envOr("FRONTEND_URL", "http://localhost:3000"), "/")
	issuer := os.Getenv("LTI_ISSUER")

	origins := []string{frontend}
	if issuer != "" && issuer != frontend {
		origins = append(origins, issuer)
	}
	origins = append(origins, csvOr("CORS_ORIGINS", "")...)

	return Config{
		Env:         env,
		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		ToolURL:     tool,
		Frontend:    frontend,
		CORSOrigins: origins,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		Issuer:       issuer,
		ClientID:     os.Getenv("LTI_CLIENT_ID"),
		DeploymentID: envOr("LTI_DEPLOYMENT_ID", "1"),
		AuthURL:      os.Getenv("LTI_AUTH_URL"),
		TokenURL:     os.Getenv("LTI_TOKEN_URL"),
		JWKSURL:      os.Getenv("LTI_JWKS_URL"),

		PrivateKeyPath: envOr("LTI_PRIVATE_KEY_PATH", "keys/private.pem"),
		PublicKeyPath:  envOr("LTI_PUBLIC_KEY_PATH", "keys/public.pem"),

		SessionDriver: envOr("SESSION_DRIVER", "memory"),
		SessionTTL:    durOr("SESSION_TTL", 8*time.Hour),
		SessionSecure: envBool("SESSION_SECURE", env == "production"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPass:     os.Getenv("REDIS_PASS"),

		LLMProvider:   strings.ToLower(envOr("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaBaseURL: envOr("OLLAMA_BASE_URL", "http://ollama:11434"),
		OllamaModel:   envOr("OLLAMA_MODEL", "gemma:2b"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIModel:   envOr("OPENAI_MODEL", "gpt-4o-mini"),

		UploadDir:   envOr("UPLOAD_DIR", "./data/uploads"),
		MaxUploadMB: int64(intOr("MAX_UPLOAD_MB", 20)),

		MasteryThreshold: floatOr("MASTERY_THRESHOLD", 60),

		EnableDevLaunch:     envBool("ENABLE_DEV_LAUNCH", env == "development"),
		DevLaunchSecretHash: os.Getenv("DEV_LAUNCH_SECRET_HASH"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func intOr(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatOr(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func durOr(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
