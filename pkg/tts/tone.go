package tts

import (
	"context"
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"
)

const (
	toneFrequency   = 440.0
	toneAmplitude   = 0.3
	tonePerRune     = 40 * time.Millisecond
	toneMinDuration = 200 * time.Millisecond
	toneMaxDuration = 8 * time.Second
)

// Tone renders a sine beep whose length follows the text length. It stands
// in for a real voice in tests and offline runs.
type Tone struct{}

// NewTone creates the tone backend
func NewTone() *Tone {
	return &Tone{}
}

// Name returns the backend name
func (t *Tone) Name() string {
	return "tone"
}

// Synthesize implements Synthesizer
func (t *Tone) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ToneFor(toneDuration(text)), nil
}

func toneDuration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * tonePerRune
	if d < toneMinDuration {
		return toneMinDuration
	}
	if d > toneMaxDuration {
		return toneMaxDuration
	}
	return d
}

// ToneFor returns d of a 440 Hz tone at the telephony rate
func ToneFor(d time.Duration) []byte {
	samples := int(d.Seconds() * TelephonySampleRate)
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := toneAmplitude * math.Sin(2*math.Pi*toneFrequency*float64(i)/TelephonySampleRate)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}
