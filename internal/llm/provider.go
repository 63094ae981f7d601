package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/metrics"
)

// Generator produces a grounded answer for one turn. Generate never fails: any backend or
// parse problem yields grounding.Fallback(). Implementations are safe for concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, c grounding.Context) grounding.Output
}

// Backend is one language model API. Complete returns the raw model text.
type Backend interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Prompt is the provider-neutral request. Backends map it onto their own wire format.
type Prompt struct {
	System  string
	History []grounding.Turn
	User    string
}

// Config selects and configures a backend.
type Config struct {
	Provider       string
	GeminiKey      string
	GeminiModel    string
	AnthropicKey   string
	AnthropicModel string
	CerebrasKey    string
	CerebrasModel  string
	// BaseURL overrides the backend endpoint, mainly for tests.
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// BackendFactory builds a backend from config.
type BackendFactory func(ctx context.Context, cfg Config) (Backend, error)

// Factory holds the registered backends keyed by provider name.
type Factory struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

func NewFactory() *Factory {
	return &Factory{factories: map[string]BackendFactory{}}
}

// DefaultFactory knows every built-in backend.
func DefaultFactory() *Factory {
	f := NewFactory()
	f.Register("gemini", newGemini)
	f.Register("anthropic", newAnthropic)
	f.Register("cerebras", newCerebras)
	return f
}

// Register attaches or replaces a backend.
func (f *Factory) Register(name string, bf BackendFactory) {
	if bf == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factories[strings.ToLower(name)] = bf
}

// Providers lists registered names.
func (f *Factory) Providers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.factories))
	for k := range f.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the Generator for cfg.Provider. It is meant to be called once per process.
func (f *Factory) New(ctx context.Context, cfg Config, m *metrics.Metrics) (Generator, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return nil, fmt.Errorf("llm provider not specified")
	}
	f.mu.RLock()
	bf := f.factories[name]
	f.mu.RUnlock()
	if bf == nil {
		return nil, fmt.Errorf("llm provider %q is not registered (have %s)", name, strings.Join(f.Providers(), ", "))
	}
	b, err := bf(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", name, err)
	}
	return NewGenerator(b, cfg.Timeout, m), nil
}

// New builds a Generator from the default factory.
func New(ctx context.Context, cfg Config, m *metrics.Metrics) (Generator, error) {
	return DefaultFactory().New(ctx, cfg, m)
}

type generator struct {
	backend Backend
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewGenerator wraps a backend with prompt construction, parsing and the fallback contract.
func NewGenerator(b Backend, timeout time.Duration, m *metrics.Metrics) Generator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &generator{backend: b, timeout: timeout, metrics: m}
}

func (g *generator) Name() string { return g.backend.Name() }

func (g *generator) Generate(ctx context.Context, c grounding.Context) grounding.Output {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.backend.Complete(ctx, BuildPrompt(c))
	if err != nil {
		g.metrics.ProviderRequest(g.Name(), "error", time.Since(start))
		log.Warn().Err(err).Str("provider", g.Name()).Msg("provider call failed, using fallback")
		return grounding.Fallback()
	}
	out, repaired, err := Parse(raw)
	if err != nil {
		g.metrics.ProviderRequest(g.Name(), "parse_error", time.Since(start))
		log.Warn().Err(err).Str("provider", g.Name()).Int("raw_len", len(raw)).Msg("unparseable model output, using fallback")
		return grounding.Fallback()
	}
	if repaired {
		g.metrics.OutputRepaired(g.Name())
		log.Debug().Str("provider", g.Name()).Msg("model output coerced into shape")
	}
	g.metrics.ProviderRequest(g.Name(), "ok", time.Since(start))
	return out
}
