package turn

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/metrics"
)

// Engine turns a non-continuous recognizer into a continuously listening, silence
// endpointed source of utterances. Each listening session hands off at most one utterance
// on Utterances().
type Engine struct {
	cfg     Config
	rec     Recognizer
	player  Player
	ev      Events
	clock   Clock
	metrics *metrics.Metrics

	utterances chan string

	mu        sync.Mutex
	state     State
	available bool
	// gen identifies the current capture session; events carrying an older value are stale.
	gen uint64
	// session identifies the current listening session for the poll loop.
	session       uint64
	capture       Capture
	captureCancel context.CancelFunc
	finals        []string
	interim       string
	heard         bool
	lastSpeech    int64
	pollTimer     Timer
	restartTimer  Timer
	speakCancel   context.CancelFunc
	speakGen      uint64
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds an engine. A nil recognizer means voice input is unavailable; a nil player
// means replies are text only.
func New(cfg Config, rec Recognizer, player Player, ev Events, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg.withDefaults(),
		rec:        rec,
		player:     player,
		ev:         ev,
		clock:      realClock{},
		utterances: make(chan string, 16),
		available:  rec != nil,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Utterances delivers finalized user utterances.
func (e *Engine) Utterances() <-chan string { return e.utterances }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:      e.state,
		Transcript: strings.Join(e.finals, " "),
		Interim:    e.interim,
		Available:  e.available,
	}
}

// Start begins listening. Any assistant speech in progress is cut off first. Start is a
// no-op when already listening or when speech capture is unavailable.
func (e *Engine) Start() {
	e.mu.Lock()
	if !e.available || e.state == Listening {
		e.mu.Unlock()
		return
	}
	e.cancelSpeechLocked()
	e.resetLocked()
	e.state = Listening
	e.session++
	e.schedulePollLocked(e.session)
	e.gen++
	g := e.gen
	e.mu.Unlock()

	e.emitState(Listening)
	e.openCapture(g)
}

// Stop returns to Idle, halting capture and playback and discarding unsent text.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.cancelSpeechLocked()
	capture, cancel := e.detachCaptureLocked()
	e.resetLocked()
	changed := e.state != Idle
	e.state = Idle
	e.mu.Unlock()

	stopCapture(capture, cancel)
	if changed {
		e.emitState(Idle)
	}
}

// Finalize hands off the accumulated text plus any interim fragment without waiting for
// silence. It reports false when not listening or nothing has been heard.
func (e *Engine) Finalize() bool {
	e.mu.Lock()
	if e.state != Listening {
		e.mu.Unlock()
		return false
	}
	parts := append([]string(nil), e.finals...)
	if e.interim != "" {
		parts = append(parts, e.interim)
	}
	text := strings.Join(parts, " ")
	if strings.TrimSpace(text) == "" {
		e.mu.Unlock()
		return false
	}
	e.finalizeLocked(text, "manual")
	return true
}

// Speak plays text through the player. done runs after playback completes unless it was
// pre-empted by Start, Stop, another Speak or ctx. Without a player done runs at once.
func (e *Engine) Speak(ctx context.Context, text string, done func()) {
	if e.player == nil {
		if done != nil {
			done()
		}
		return
	}
	e.mu.Lock()
	e.cancelSpeechLocked()
	capture, cancel := e.detachCaptureLocked()
	e.resetLocked()
	e.state = Speaking
	sctx, scancel := context.WithCancel(ctx)
	e.speakCancel = scancel
	e.speakGen++
	sg := e.speakGen
	e.mu.Unlock()

	stopCapture(capture, cancel)
	e.emitState(Speaking)

	go func() {
		err := e.player.Play(sctx, text)
		e.mu.Lock()
		if e.speakGen != sg {
			e.mu.Unlock()
			return
		}
		preempted := sctx.Err() != nil
		e.speakCancel = nil
		e.state = Idle
		e.mu.Unlock()
		scancel()

		e.emitState(Idle)
		if err != nil && !preempted {
			log.Warn().Err(err).Msg("speech playback failed")
		}
		if done != nil && !preempted {
			done()
		}
	}()
}

func (e *Engine) openCapture(g uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := e.rec.Open(ctx, &captureHandler{e: e, gen: g})

	e.mu.Lock()
	if g != e.gen || e.state != Listening {
		e.mu.Unlock()
		stopCapture(c, cancel)
		return
	}
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			e.available = false
			e.toIdleLocked()
			e.mu.Unlock()
			cancel()
			log.Info().Err(err).Msg("speech capture unavailable, voice input disabled")
			e.emitState(Idle)
			e.emitUnavailable(err)
			return
		}
		e.mu.Unlock()
		cancel()
		e.onEnd(g, err)
		return
	}
	if e.restartTimer != nil {
		// The capture already ended from the recognizer's side and a restart is queued.
		e.mu.Unlock()
		stopCapture(c, cancel)
		return
	}
	e.capture = c
	e.captureCancel = cancel
	e.mu.Unlock()
}

func (e *Engine) onResult(g uint64, r Result) {
	e.mu.Lock()
	if g != e.gen || e.state != Listening {
		e.mu.Unlock()
		return
	}
	spoke := false
	for _, f := range r.Finals {
		if f = strings.TrimSpace(f); f != "" {
			e.finals = append(e.finals, f)
			spoke = true
		}
	}
	e.interim = strings.TrimSpace(r.Interim)
	if e.interim != "" {
		spoke = true
	}
	if spoke {
		e.heard = true
		e.lastSpeech = e.clock.Now().UnixNano()
	}
	acc, interim := strings.Join(e.finals, " "), e.interim
	e.mu.Unlock()

	if e.ev.OnTranscript != nil {
		e.ev.OnTranscript(acc, interim)
	}
}

func (e *Engine) onEnd(g uint64, err error) {
	e.mu.Lock()
	if g != e.gen {
		e.mu.Unlock()
		return
	}
	e.capture, e.captureCancel = nil, nil
	if e.state != Listening {
		e.mu.Unlock()
		return
	}
	if Recoverable(err) {
		e.metrics.CaptureRestarted()
		log.Debug().Err(err).Dur("backoff", e.cfg.RestartBackoff).Msg("capture ended, restarting")
		e.restartTimer = e.clock.AfterFunc(e.cfg.RestartBackoff, func() { e.restart(g) })
		e.mu.Unlock()
		return
	}
	e.toIdleLocked()
	e.mu.Unlock()

	log.Warn().Err(err).Msg("unrecoverable capture error, voice input stopped")
	e.emitState(Idle)
	e.emitUnavailable(err)
}

func (e *Engine) restart(g uint64) {
	e.mu.Lock()
	if g != e.gen || e.state != Listening {
		e.mu.Unlock()
		return
	}
	e.restartTimer = nil
	stale, staleCancel := e.capture, e.captureCancel
	e.capture, e.captureCancel = nil, nil
	e.gen++
	next := e.gen
	e.mu.Unlock()
	stopCapture(stale, staleCancel)
	e.openCapture(next)
}

func (e *Engine) schedulePollLocked(session uint64) {
	e.pollTimer = e.clock.AfterFunc(e.cfg.PollInterval, func() { e.poll(session) })
}

func (e *Engine) poll(session uint64) {
	e.mu.Lock()
	if session != e.session || e.state != Listening {
		e.mu.Unlock()
		return
	}
	silence := e.clock.Now().UnixNano() - e.lastSpeech
	if len(e.finals) > 0 && e.heard && silence > int64(e.cfg.SilenceThreshold) {
		e.finalizeLocked(strings.Join(e.finals, " "), "silence")
		return
	}
	e.schedulePollLocked(session)
	e.mu.Unlock()
}

// finalizeLocked hands off text and releases the lock. The buffers are cleared and the
// capture generation bumped before any later event can append to them.
func (e *Engine) finalizeLocked(text, trigger string) {
	capture, cancel := e.detachCaptureLocked()
	e.resetLocked()
	e.state = Finalizing
	e.mu.Unlock()

	stopCapture(capture, cancel)
	e.metrics.Endpointed(trigger)
	e.emitState(Finalizing)

	select {
	case e.utterances <- text:
	default:
		log.Warn().Str("trigger", trigger).Msg("utterance dropped, consumer not keeping up")
	}

	e.mu.Lock()
	moved := e.state == Finalizing
	if moved {
		e.state = Idle
	}
	e.mu.Unlock()
	if moved {
		e.emitState(Idle)
	}
}

func (e *Engine) detachCaptureLocked() (Capture, context.CancelFunc) {
	e.gen++
	e.session++
	c, cancel := e.capture, e.captureCancel
	e.capture, e.captureCancel = nil, nil
	if e.pollTimer != nil {
		e.pollTimer.Stop()
		e.pollTimer = nil
	}
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	return c, cancel
}

func (e *Engine) toIdleLocked() {
	e.detachCaptureLocked()
	e.resetLocked()
	e.state = Idle
}

func (e *Engine) resetLocked() {
	e.finals = nil
	e.interim = ""
	e.heard = false
	e.lastSpeech = 0
}

func (e *Engine) cancelSpeechLocked() {
	if e.speakCancel != nil {
		e.speakCancel()
		e.speakCancel = nil
	}
	e.speakGen++
}

func (e *Engine) emitState(s State) {
	if e.ev.OnState != nil {
		e.ev.OnState(s)
	}
}

func (e *Engine) emitUnavailable(err error) {
	if e.ev.OnUnavailable != nil {
		e.ev.OnUnavailable(err)
	}
}

func stopCapture(c Capture, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Stop()
	}
}

type captureHandler struct {
	e   *Engine
	gen uint64
}

func (h *captureHandler) OnResult(r Result) { h.e.onResult(h.gen, r) }
func (h *captureHandler) OnEnd(err error)   { h.e.onEnd(h.gen, err) }
