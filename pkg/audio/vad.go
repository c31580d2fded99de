package audio

import "math"

// Detector is an energy based voice activity detector with a hold time and
// an adaptive noise floor. Frames are 16-bit little-endian mono PCM.
type Detector struct {
	threshold  float64 // energy threshold (mean square of normalized samples)
	holdFrames int     // frames to keep voice active after energy drops

	holdCounter int
	active      bool
	noiseFloor  float64
}

const initialNoiseFloor = 0.01

// NewDetector creates a detector
func NewDetector(threshold float64, holdFrames int) *Detector {
	return &Detector{
		threshold:  threshold,
		holdFrames: holdFrames,
		noiseFloor: initialNoiseFloor,
	}
}

// Process classifies one frame. It returns the voice state after the frame
// and whether the state changed.
func (d *Detector) Process(pcm []byte) (active, changed bool) {
	energy := Energy(pcm)
	before := d.active

	effective := math.Max(d.threshold, d.noiseFloor*2.0)
	switch {
	case energy > effective:
		d.active = true
		d.holdCounter = d.holdFrames
	case d.holdCounter > 0:
		d.holdCounter--
		d.active = true
	default:
		d.active = false
		// slow adaptation so low-level speech is not absorbed
		d.noiseFloor = 0.99*d.noiseFloor + 0.01*energy
	}

	return d.active, d.active != before
}

// Active returns the current voice state
func (d *Detector) Active() bool {
	return d.active
}

// NoiseFloor returns the estimated noise floor
func (d *Detector) NoiseFloor() float64 {
	return d.noiseFloor
}

// Reset forgets the voice state. The noise floor estimate is kept.
func (d *Detector) Reset() {
	d.holdCounter = 0
	d.active = false
}

// Energy returns the mean square of the normalized samples of pcm
func Energy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	total := 0.0
	for i := 0; i < samples; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		s := float64(sample) / 32768.0
		total += s * s
	}
	return total / float64(samples)
}
