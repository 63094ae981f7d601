package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/barge"
	"github.com/chadiek/store-assistant/internal/config"
	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/httpserver"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/llm"
	"github.com/chadiek/store-assistant/internal/logging"
	"github.com/chadiek/store-assistant/internal/metrics"
	"github.com/chadiek/store-assistant/internal/phone"
	"github.com/chadiek/store-assistant/internal/rtc"
	"github.com/chadiek/store-assistant/internal/session"
	"github.com/chadiek/store-assistant/internal/transcript"
	"github.com/chadiek/store-assistant/internal/tts"
	"github.com/chadiek/store-assistant/internal/turn"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	m := metrics.New("store_assistant")

	inv, closeInv, err := openInventory(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closeInv()

	assembler := grounding.NewAssembler(inv, cfg.HistoryWindow)
	generator, err := llm.New(ctx, llm.Config{
		Provider:       cfg.LLMProvider,
		GeminiKey:      cfg.GeminiKey,
		GeminiModel:    cfg.GeminiModel,
		AnthropicKey:   cfg.AnthropicKey,
		AnthropicModel: cfg.AnthropicModel,
		CerebrasKey:    cfg.CerebrasKey,
		CerebrasModel:  cfg.CerebrasModelID,
	}, m)
	if err != nil {
		return err
	}
	log.Info().Str("provider", generator.Name()).Msg("language model ready")

	speech, err := tts.New(tts.Config{
		Provider:          cfg.TTSProvider,
		DeepgramKey:       cfg.DeepgramKey,
		DeepgramModel:     cfg.DeepgramModel,
		ElevenLabsKey:     cfg.ElevenLabsKey,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
	})
	if err != nil {
		return err
	}

	transcriber, err := transcript.NewGemini(ctx, cfg.GeminiKey, cfg.TranscriptionModel, "")
	if err != nil {
		return err
	}

	newConversation := func(id, storeID string) *agent.Conversation {
		return agent.NewConversation(id, storeID, assembler, generator, agent.WithConversationMetrics(m))
	}

	turnCfg := turn.Config{
		SilenceThreshold: cfg.SilenceThreshold,
		RestartBackoff:   cfg.RestartBackoff,
		PollInterval:     cfg.SilencePoll,
	}
	rtcHandler := rtc.NewHandler(rtc.Deps{
		NewConversation: newConversation,
		NewRecognizer: func() rtc.Recognizer {
			if cfg.AssemblyAIKey == "" {
				return nil
			}
			return transcript.NewAssemblyAI(cfg.AssemblyAIKey)
		},
		Speech:     speech,
		Voice:      tts.Voice{Rate: cfg.SpeechRate, Pitch: cfg.SpeechPitch},
		Turn:       turnCfg,
		Barge:      barge.DefaultWebRTCHeadset(),
		ICEServers: cfg.ICEServers,
		Metrics:    m,
	})

	var phoneHandler *phone.Handler
	if cfg.TwilioAuthToken != "" {
		calls := agent.NewStore(func(id string) *agent.Conversation {
			return newConversation(id, cfg.TwilioStoreID)
		})
		phoneHandler = phone.NewHandler(calls, cfg.TwilioStoreID)
	}

	srv := httpserver.New(httpserver.Deps{
		Verifier:        session.NewVerifier(cfg.JWTSecret),
		Assembler:       assembler,
		Generator:       generator,
		Inventory:       inv,
		Transcriber:     transcriber,
		RTC:             rtcHandler,
		Phone:           phoneHandler,
		TwilioAuthToken: cfg.TwilioAuthToken,
		Metrics:         m,
	})
	return srv.Start(ctx, cfg.HTTPAddress)
}

// openInventory picks the configured backend and puts the Redis cache in front of it
// when REDIS_URL is set.
func openInventory(ctx context.Context, cfg config.Config, m *metrics.Metrics) (inventory.Gateway, func(), error) {
	var (
		gw      inventory.Gateway
		closers []func()
	)
	switch cfg.InventoryBackend {
	case "", "memory":
		gw = inventory.NewDemoMemory()
	case "supabase":
		sb, err := inventory.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, nil, err
		}
		gw = sb
	case "postgres":
		pg, err := inventory.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		gw = pg
		closers = append(closers, pg.Close)
	default:
		return nil, nil, fmt.Errorf("unknown inventory backend %q", cfg.InventoryBackend)
	}

	if cfg.RedisURL != "" {
		rdb, err := inventory.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		gw = inventory.NewCached(gw, rdb, cfg.InventoryCacheTTL, m)
		closers = append(closers, func() { _ = rdb.Close() })
	}
	log.Info().Str("backend", cfg.InventoryBackend).Bool("cached", cfg.RedisURL != "").Msg("inventory ready")

	return gw, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
