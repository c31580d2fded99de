package messages

import "strings"

// Sentinel candidates
const (
	// Other means no usable result was produced
	Other = "_other_"
	// ErrorSentinel means the backend failed
	ErrorSentinel = "__error__"
)

// Candidate is one entry of an n-best list
type Candidate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Hypothesis is the result of recognition or translation for one segment.
// NBest is ordered best first.
type Hypothesis struct {
	SegmentID string      `json:"segment_id"`
	Source    string      `json:"source"`
	NBest     []Candidate `json:"nbest"`

	// ASR is the recognizer hypothesis a translation was produced from
	ASR *Hypothesis `json:"asr,omitempty"`
}

// NewHypothesis builds a single-candidate hypothesis
func NewHypothesis(segmentID, source, text string, confidence float64) Hypothesis {
	return Hypothesis{
		SegmentID: segmentID,
		Source:    source,
		NBest:     []Candidate{{Text: text, Confidence: confidence}},
	}
}

// OtherHypothesis builds the "no usable result" hypothesis for a segment
func OtherHypothesis(segmentID, source string) Hypothesis {
	return NewHypothesis(segmentID, source, Other, 1.0)
}

// ErrorHypothesis builds the "backend failed" hypothesis for a segment
func ErrorHypothesis(segmentID, source string) Hypothesis {
	return NewHypothesis(segmentID, source, ErrorSentinel, 1.0)
}

// Best returns the top candidate text. An empty list or a blank best
// candidate counts as Other.
func (h Hypothesis) Best() string {
	if len(h.NBest) == 0 {
		return Other
	}
	text := strings.TrimSpace(h.NBest[0].Text)
	if text == "" {
		return Other
	}
	return text
}

// IsOther reports whether the best candidate is the Other sentinel
func (h Hypothesis) IsOther() bool {
	return h.Best() == Other
}

// IsError reports whether the best candidate is the error sentinel
func (h Hypothesis) IsError() bool {
	return h.Best() == ErrorSentinel
}

// AudioFrame is a chunk of 16-bit little-endian mono PCM. Frames produced by
// the VAD carry the segment they belong to; Final marks the last frame of a
// segment.
type AudioFrame struct {
	SegmentID  string
	Seq        int
	SampleRate int
	PCM        []byte
	Final      bool
}

// Utterance is synthesized audio to be played to the caller
type Utterance struct {
	UserID     string
	SampleRate int
	PCM        []byte
}

// Duration returns the playback length in seconds
func (u Utterance) Duration() float64 {
	if u.SampleRate <= 0 {
		return 0
	}
	return float64(len(u.PCM)/2) / float64(u.SampleRate)
}
