package barge

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

type simpleVAD struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newSimpleVAD(threshold float64) *simpleVAD { return &simpleVAD{threshold: threshold, smoothN: 4} }

func (v *simpleVAD) isSpeech(frame Frame10ms) bool {
	if len(frame) == 0 {
		return false
	}
	b := rms(frame) >= v.threshold
	v.win = append(v.win, b)
	if len(v.win) > v.smoothN {
		v.win = v.win[len(v.win)-v.smoothN:]
	}
	trueCount := 0
	for _, x := range v.win {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(v.win)
}

func (v *simpleVAD) reset() { v.win = v.win[:0] }

func rms(frames ...Frame10ms) float64 {
	var sum float64
	var n int
	for _, f := range frames {
		for _, s := range f {
			x := float64(s)
			sum += x * x
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// circularPCM stores 16-bit PCM samples for pre-roll.
type circularPCM struct {
	buf      []int16
	cap      int
	writePos int
	sr       int
}

func newCircularPCM(capacityMs int, sampleRate int) *circularPCM {
	samples := capacityMs * sampleRate / 1000
	if samples < sampleRate/10 {
		samples = sampleRate / 10
	}
	return &circularPCM{buf: make([]int16, samples), cap: samples, sr: sampleRate}
}

func (c *circularPCM) Write(frame Frame10ms) {
	for _, s := range frame {
		c.buf[c.writePos] = s
		c.writePos = (c.writePos + 1) % c.cap
	}
}

func (c *circularPCM) ReadLastMs(ms int) []int16 {
	n := min(ms*c.sr/1000, c.cap)
	out := make([]int16, n)
	start := (c.writePos - n + c.cap) % c.cap
	for i := 0; i < n; i++ {
		out[i] = c.buf[(start+i)%c.cap]
	}
	return out
}

type voteWindow struct {
	size int
	hist []bool
}

func newVoteWindow(ms int) *voteWindow {
	return &voteWindow{size: ms/10 + 1}
}

func (v *voteWindow) Push(b bool) {
	v.hist = append(v.hist, b)
	if len(v.hist) > v.size {
		v.hist = v.hist[len(v.hist)-v.size:]
	}
}

// Ratio is the share of true votes, counted against the full window so a few
// early frames cannot trigger on their own.
func (v *voteWindow) Ratio() float64 {
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(v.size)
}

func (v *voteWindow) Reset() { v.hist = v.hist[:0] }

// Detector spots the caller talking over assistant speech. Two cues must agree per frame:
// smoothed frame VAD and sustained energy across the recent window.
type Detector struct {
	cfg Config
	ev  Events

	mu       sync.Mutex
	speaking bool
	vad      *simpleVAD
	recent   []Frame10ms
	preRoll  *circularPCM
	votesOn  *voteWindow
	votesOff *voteWindow
}

func New(cfg Config, ev Events) *Detector {
	d := DefaultWebRTCHeadset()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = d.VADThreshold
	}
	if cfg.OverlapThreshold == 0 {
		cfg.OverlapThreshold = d.OverlapThreshold
	}
	if cfg.FuseWinMs == 0 {
		cfg.FuseWinMs = d.FuseWinMs
	}
	if cfg.HysteresisOffMs == 0 {
		cfg.HysteresisOffMs = d.HysteresisOffMs
	}
	if cfg.PreRollMs == 0 {
		cfg.PreRollMs = d.PreRollMs
	}
	return &Detector{
		cfg:      cfg,
		ev:       ev,
		vad:      newSimpleVAD(cfg.VADThreshold),
		preRoll:  newCircularPCM(300, cfg.SampleRate),
		votesOn:  newVoteWindow(cfg.FuseWinMs),
		votesOff: newVoteWindow(cfg.HysteresisOffMs),
	}
}

// SetSpeaking arms detection while the assistant talks.
func (d *Detector) SetSpeaking(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on && !d.speaking {
		d.resetLocked()
	}
	d.speaking = on
}

func (d *Detector) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.mu.Unlock()
}

func (d *Detector) resetLocked() {
	d.votesOn.Reset()
	d.votesOff.Reset()
	d.vad.reset()
	d.recent = d.recent[:0]
}

// Feed takes PCM16LE mic audio at SampleRate; trailing partial frames are dropped.
func (d *Detector) Feed(pcm []byte) {
	samplesPer10ms := d.cfg.SampleRate / 100
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		frame := make(Frame10ms, samplesPer10ms)
		for i := range frame {
			frame[i] = int16(binary.LittleEndian.Uint16(pcm[off+i*2:]))
		}
		if pre := d.onFrame(frame); pre != nil && d.ev.OnTrigger != nil {
			d.ev.OnTrigger(time.Now(), pre)
		}
	}
}

// onFrame returns the pre-roll when this frame triggers.
func (d *Detector) onFrame(frame Frame10ms) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preRoll.Write(frame)
	d.recent = append(d.recent, frame)
	if n := d.votesOn.size; len(d.recent) > n {
		d.recent = d.recent[len(d.recent)-n:]
	}
	if !d.speaking {
		return nil
	}

	vadYes := d.vad.isSpeech(frame)
	overlapYes := rms(d.recent...) > d.cfg.OverlapThreshold
	d.votesOn.Push(vadYes && overlapYes)
	d.votesOff.Push(!vadYes && !overlapYes)

	if d.votesOn.Ratio() >= 2.0/3.0 {
		d.speaking = false
		d.resetLocked()
		return d.preRollBytes()
	}
	if d.votesOff.Ratio() >= 2.0/3.0 {
		d.votesOn.Reset()
	}
	return nil
}

func (d *Detector) preRollBytes() []byte {
	pre := d.preRoll.ReadLastMs(d.cfg.PreRollMs)
	out := make([]byte, len(pre)*2)
	for i, s := range pre {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
