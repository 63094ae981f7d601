package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	LogPretty   bool
	JWTSecret   string
	ICEServers  []string

	// Language model provider selection and per-backend models.
	LLMProvider     string
	GeminiKey       string
	GeminiModel     string
	AnthropicKey    string
	AnthropicModel  string
	CerebrasKey     string
	CerebrasModelID string
	HistoryWindow   int

	// Speech.
	AssemblyAIKey      string
	TranscriptionModel string
	TTSProvider        string
	DeepgramKey        string
	DeepgramModel      string
	ElevenLabsKey      string
	ElevenLabsVoiceID  string
	SpeechRate         float64
	SpeechPitch        float64

	// Turn engine tuning.
	SilenceThreshold time.Duration
	RestartBackoff   time.Duration
	SilencePoll      time.Duration

	// Inventory.
	InventoryBackend  string
	SupabaseURL       string
	SupabaseKey       string
	DatabaseURL       string
	RedisURL          string
	InventoryCacheTTL time.Duration

	// Phone channel.
	TwilioAuthToken string
	TwilioStoreID   string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDRESS", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ICE_SERVERS", "stun:stun.l.google.com:19302")

	v.SetDefault("LLM_PROVIDER", "gemini")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
	v.SetDefault("CEREBRAS_MODEL_ID", "gpt-oss-120b")
	v.SetDefault("HISTORY_WINDOW", 6)

	v.SetDefault("TRANSCRIPTION_MODEL", "gemini-2.0-flash")
	v.SetDefault("TTS_PROVIDER", "deepgram")
	v.SetDefault("DEEPGRAM_MODEL", "aura-2-thalia-en")
	v.SetDefault("SPEECH_RATE", 1.1)
	v.SetDefault("SPEECH_PITCH", 1.0)

	v.SetDefault("SILENCE_THRESHOLD_MS", 1500)
	v.SetDefault("RESTART_BACKOFF_MS", 500)
	v.SetDefault("SILENCE_POLL_MS", 500)

	v.SetDefault("INVENTORY_BACKEND", "memory")
	v.SetDefault("INVENTORY_CACHE_TTL_SECONDS", 30)
	v.SetDefault("TWILIO_STORE_ID", "demo-store")
}

// Load reads .env and environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddress: v.GetString("HTTP_ADDRESS"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogPretty:   v.GetBool("LOG_PRETTY"),
		JWTSecret:   v.GetString("JWT_SECRET"),
		ICEServers:  splitList(v.GetString("ICE_SERVERS")),

		LLMProvider:     strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		GeminiKey:       v.GetString("GEMINI_API_KEY"),
		GeminiModel:     v.GetString("GEMINI_MODEL"),
		AnthropicKey:    v.GetString("ANTHROPIC_API_KEY"),
		AnthropicModel:  v.GetString("ANTHROPIC_MODEL"),
		CerebrasKey:     v.GetString("CEREBRAS_API_KEY"),
		CerebrasModelID: v.GetString("CEREBRAS_MODEL_ID"),
		HistoryWindow:   v.GetInt("HISTORY_WINDOW"),

		AssemblyAIKey:      v.GetString("ASSEMBLYAI_API_KEY"),
		TranscriptionModel: v.GetString("TRANSCRIPTION_MODEL"),
		TTSProvider:        strings.ToLower(strings.TrimSpace(v.GetString("TTS_PROVIDER"))),
		DeepgramKey:        v.GetString("DEEPGRAM_API_KEY"),
		DeepgramModel:      v.GetString("DEEPGRAM_MODEL"),
		ElevenLabsKey:      v.GetString("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  v.GetString("ELEVENLABS_VOICE_ID"),
		SpeechRate:         v.GetFloat64("SPEECH_RATE"),
		SpeechPitch:        v.GetFloat64("SPEECH_PITCH"),

		SilenceThreshold: millis(v, "SILENCE_THRESHOLD_MS"),
		RestartBackoff:   millis(v, "RESTART_BACKOFF_MS"),
		SilencePoll:      millis(v, "SILENCE_POLL_MS"),

		InventoryBackend:  strings.ToLower(strings.TrimSpace(v.GetString("INVENTORY_BACKEND"))),
		SupabaseURL:       v.GetString("SUPABASE_URL"),
		SupabaseKey:       v.GetString("SUPABASE_SERVICE_ROLE_KEY"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		RedisURL:          v.GetString("REDIS_URL"),
		InventoryCacheTTL: time.Duration(v.GetInt("INVENTORY_CACHE_TTL_SECONDS")) * time.Second,

		TwilioAuthToken: v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioStoreID:   v.GetString("TWILIO_STORE_ID"),
	}

	cfg.warnMissing()
	log.Info().Str("addr", cfg.HTTPAddress).Str("llm_provider", cfg.LLMProvider).Msg("config loaded")
	return cfg
}

func (c Config) warnMissing() {
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiKey == "" {
			log.Warn().Msg("GEMINI_API_KEY not set - assistant will answer with fallback replies")
		}
	case "anthropic":
		if c.AnthropicKey == "" {
			log.Warn().Msg("ANTHROPIC_API_KEY not set - assistant will answer with fallback replies")
		}
	case "cerebras":
		if c.CerebrasKey == "" {
			log.Warn().Msg("CEREBRAS_API_KEY not set - assistant will answer with fallback replies")
		}
	}
	if c.AssemblyAIKey == "" {
		log.Warn().Msg("ASSEMBLYAI_API_KEY not set - voice capture disabled, text input only")
	}
	if c.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set - every assistant request will be rejected as unauthenticated")
	}
	if c.TTSProvider == "elevenlabs" && c.ElevenLabsVoiceID == "" {
		log.Warn().Msg("ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
	}
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
