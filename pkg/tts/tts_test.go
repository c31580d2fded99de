package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/config"
	hubErrors "translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCartesiaSynthesize(t *testing.T) {
	var got cartesiaTTSRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tts/bytes", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, cartesiaVersion, r.Header.Get("Cartesia-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte{1, 2, 3, 4, 5})
	}))
	defer server.Close()

	c := NewCartesia(newTestLogger(), config.TTSConfig{APIKey: "secret", Voice: "voice-1", Language: "en"})
	c.baseURL = server.URL

	pcm, err := c.Synthesize(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm, "odd trailing byte dropped")

	assert.Equal(t, "Hello", got.Transcript)
	assert.Equal(t, cartesiaVoiceSpec{Mode: "id", ID: "voice-1"}, got.Voice)
	assert.Equal(t, cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: 8000}, got.OutputFormat)
	assert.Equal(t, "en", got.Language)
}

func TestCartesiaError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewCartesia(newTestLogger(), config.TTSConfig{APIKey: "secret"})
	c.baseURL = server.URL
	_, err := c.Synthesize(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrSynthesis)
}

func TestToneDuration(t *testing.T) {
	tone := NewTone()
	pcm, err := tone.Synthesize(context.Background(), "hi")
	require.NoError(t, err)
	assert.Len(t, pcm, int(toneMinDuration.Seconds()*TelephonySampleRate)*2)

	long, err := tone.Synthesize(context.Background(), string(make([]rune, 1000)))
	require.NoError(t, err)
	assert.Len(t, long, int(toneMaxDuration.Seconds()*TelephonySampleRate)*2)
}

func TestNewSynthesizer(t *testing.T) {
	s, err := NewSynthesizer(newTestLogger(), config.TTSConfig{})
	require.NoError(t, err)
	assert.Equal(t, "tone", s.Name())

	_, err = NewSynthesizer(newTestLogger(), config.TTSConfig{Type: "cartesia"})
	assert.ErrorIs(t, err, ErrSynthesis)

	_, err = NewSynthesizer(newTestLogger(), config.TTSConfig{Type: "flite"})
	assert.ErrorIs(t, err, ErrBackendNotFound)
}

type scriptedSynth struct {
	mu    sync.Mutex
	texts []string
	fail  map[string]bool
	delay time.Duration
}

func (s *scriptedSynth) Name() string { return "scripted" }

func (s *scriptedSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	fail := s.fail[text]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("voice not found")
	}
	return make([]byte, 2*len(text)), nil
}

type stageHarness struct {
	stage *Stage
	synth *scriptedSynth
	audio *channel.Endpoint[messages.Utterance]
}

func newStageHarness(t *testing.T) *stageHarness {
	t.Helper()
	stageCmd, _ := channel.Pipe[messages.Envelope]()
	stageAudio, hubAudio := channel.Pipe[messages.Utterance]()
	h := &stageHarness{synth: &scriptedSynth{fail: map[string]bool{}}, audio: hubAudio}
	h.stage = NewStage(newTestLogger(), messages.StageSrcTTS, h.synth, stageCmd, stageAudio)
	t.Cleanup(func() { h.stage.Close() })
	return h
}

func (h *stageHarness) collect(t *testing.T, n int) []messages.Utterance {
	t.Helper()
	var out []messages.Utterance
	require.Eventually(t, func() bool {
		if err := h.stage.Work(context.Background()); err != nil {
			return false
		}
		for {
			utt, ok := h.audio.Receive()
			if !ok {
				break
			}
			out = append(out, utt)
		}
		return len(out) >= n
	}, time.Second, 5*time.Millisecond)
	return out
}

func TestStageSynthesizesInOrder(t *testing.T) {
	h := newStageHarness(t)
	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "0", Text: "Welcome"}))
	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "1", Text: "Speak now"}))

	out := h.collect(t, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "0", out[0].UserID)
	assert.Equal(t, 14, len(out[0].PCM))
	assert.Equal(t, TelephonySampleRate, out[0].SampleRate)
	assert.Equal(t, "1", out[1].UserID)
}

func TestStageFailureYieldsEmptyUtterance(t *testing.T) {
	h := newStageHarness(t)
	h.synth.fail["Sorry"] = true

	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "7", Text: "Sorry"}))
	out := h.collect(t, 1)
	assert.Equal(t, "7", out[0].UserID)
	assert.Empty(t, out[0].PCM)
}

func TestStageEmptyTextSkipsBackend(t *testing.T) {
	h := newStageHarness(t)
	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "3"}))
	out := h.collect(t, 1)
	assert.Equal(t, "3", out[0].UserID)
	assert.Empty(t, h.synth.texts)
}

func TestStageFlushDropsPendingSynthesis(t *testing.T) {
	h := newStageHarness(t)
	h.synth.delay = 50 * time.Millisecond
	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "1", Text: "one"}))
	require.NoError(t, h.stage.HandleCommand(messages.Synthesize{UserID: "2", Text: "two"}))

	h.stage.Flush()
	h.stage.Flush()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.stage.Work(context.Background()))
	assert.False(t, h.audio.Poll())
}

func TestStageRejectsOtherCommands(t *testing.T) {
	h := newStageHarness(t)
	err := h.stage.HandleCommand(messages.Hangup{})
	assert.True(t, hubErrors.Is(err, hubErrors.ErrUnknownCommand))
}
