package barge

import (
	"time"
)

// Frame10ms represents a 10ms mono PCM frame at SampleRate Hz.
// For 16kHz mono, this is 160 samples of int16.
type Frame10ms []int16

// Config holds the thresholds for the barge-in detector.
type Config struct {
	VADThreshold     float64 // per-frame RMS counted as voiced
	OverlapThreshold float64 // window RMS that rules out a stray click
	FuseWinMs        int     // 150–180
	HysteresisOffMs  int     // 200
	PreRollMs        int     // 200–250
	SampleRate       int     // 16000 or 8000
}

// Events allows the host to react to barge-in.
type Events struct {
	// OnTrigger fires once per speaking period when the caller talks over the assistant.
	// preRoll holds the last PreRollMs of mic audio as PCM16LE at SampleRate.
	OnTrigger func(ts time.Time, preRoll []byte)
}

// DefaultWebRTCHeadset suits browser audio with echo cancellation on.
func DefaultWebRTCHeadset() Config {
	return Config{
		VADThreshold:     300,
		OverlapThreshold: 500,
		FuseWinMs:        150,
		HysteresisOffMs:  200,
		PreRollMs:        220,
		SampleRate:       16000,
	}
}
