package mt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"translate-hub/pkg/channel"
	"translate-hub/pkg/circuitbreaker"
	"translate-hub/pkg/config"
	pkg_errors "translate-hub/pkg/errors"
	"translate-hub/pkg/messages"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestMTMonkeyTranslate(t *testing.T) {
	var got mtmonkeyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"errorCode":0,"translation":[
			{"translated":[{"text":"Good day.","score":0.9},{"text":"Hello.","score":0.1}]},
			{"translated":[{"text":"How are you?","score":0.8}]}
		]}`))
	}))
	defer server.Close()

	m := NewMTMonkey(newTestLogger(), config.MTConfig{MTMonkeyURL: server.URL, SourceLang: "cs", TargetLang: "en"})
	out, err := m.Translate(context.Background(), "Dobrý den. Jak se máte?")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Good day. How are you?", out[0].Text)

	assert.Equal(t, mtmonkeyRequest{Action: "translate", SourceLang: "cs", TargetLang: "en", Text: "Dobrý den. Jak se máte?"}, got)
}

func TestParseMTMonkey(t *testing.T) {
	tests := map[string]struct {
		payload string
		want    string
		wantErr bool
	}{
		"service error":    {payload: `{"errorCode":5,"errorMessage":"no model"}`, wantErr: true},
		"missing code":     {payload: `{"translation":[]}`, wantErr: true},
		"malformed":        {payload: `{"errorCode":0,`, wantErr: true},
		"empty":            {payload: `{"errorCode":0,"translation":[]}`},
		"skips empty list": {payload: `{"errorCode":0,"translation":[{"translated":[]},{"translated":[{"text":"yes"}]}]}`, want: "yes"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out, err := parseMTMonkey([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTranslation)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Empty(t, out)
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].Text)
		})
	}
}

func TestMTMonkeyUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := NewMTMonkey(newTestLogger(), config.MTConfig{MTMonkeyURL: server.URL})
	_, err := m.Translate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrTranslation)
}

func TestGeminiTranslate(t *testing.T) {
	g := newGemini(newTestLogger(), config.MTConfig{SourceLang: "cs", TargetLang: "en"})

	var prompt string
	var sent *genai.GenerateContentConfig
	g.generate = func(ctx context.Context, p string, cfg *genai.GenerateContentConfig) (string, error) {
		prompt, sent = p, cfg
		return " Good morning \n", nil
	}

	out, err := g.Translate(context.Background(), "Dobré ráno")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Good morning", out[0].Text)
	assert.Equal(t, "Dobré ráno", prompt)
	assert.Equal(t, defaultGeminiModel, g.model)
	require.NotNil(t, sent.SystemInstruction)
	require.NotEmpty(t, sent.SystemInstruction.Parts)
	assert.Contains(t, sent.SystemInstruction.Parts[0].Text, "from cs to en")

	g.generate = func(ctx context.Context, p string, cfg *genai.GenerateContentConfig) (string, error) {
		return "", errors.New("quota")
	}
	_, err = g.Translate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTranslation)
}

func TestNewTranslator(t *testing.T) {
	tr, err := NewTranslator(context.Background(), newTestLogger(), config.MTConfig{Type: "MTMonkey", MTMonkeyURL: "http://localhost"})
	require.NoError(t, err)
	assert.Equal(t, "mtmonkey", tr.Name())

	_, err = NewTranslator(context.Background(), newTestLogger(), config.MTConfig{Type: "gemini"})
	assert.ErrorIs(t, err, ErrTranslation, "gemini without a key")

	_, err = NewTranslator(context.Background(), newTestLogger(), config.MTConfig{Type: "moses"})
	assert.ErrorIs(t, err, ErrBackendNotFound)
}

type stageHarness struct {
	stage   *Stage
	mock    *Mock
	hubData *channel.Endpoint[messages.Hypothesis]
	hubCmd  *channel.Endpoint[messages.Envelope]
}

func newStageHarness(t *testing.T) *stageHarness {
	t.Helper()
	stageCmd, hubCmd := channel.Pipe[messages.Envelope]()
	stageData, hubData := channel.Pipe[messages.Hypothesis]()

	h := &stageHarness{mock: NewMock(), hubData: hubData, hubCmd: hubCmd}
	h.stage = NewStage(newTestLogger(), h.mock, stageCmd, stageData)
	t.Cleanup(func() { h.stage.Close() })
	return h
}

func (h *stageHarness) wait(t *testing.T) messages.Hypothesis {
	t.Helper()
	var out messages.Hypothesis
	require.Eventually(t, func() bool {
		if err := h.stage.Work(context.Background()); err != nil {
			return false
		}
		var ok bool
		out, ok = h.hubData.Receive()
		return ok
	}, time.Second, 5*time.Millisecond)
	return out
}

func TestStageTranslates(t *testing.T) {
	h := newStageHarness(t)
	h.mock.Add("ahoj", "hello")

	asr := messages.NewHypothesis("42", messages.StageASR2, "ahoj", 0.7)
	h.hubData.Send(asr)

	out := h.wait(t)
	assert.Equal(t, "42", out.SegmentID)
	assert.Equal(t, messages.StageMT, out.Source)
	assert.Equal(t, "hello", out.Best())
	require.NotNil(t, out.ASR)
	assert.Equal(t, asr, *out.ASR)

	env, ok := h.hubCmd.Receive()
	require.True(t, ok)
	assert.Equal(t, messages.Translated{Fname: "42"}, env.Command)
	assert.Equal(t, messages.StageMT, env.Origin)
	assert.Equal(t, messages.StageHub, env.Destination)
}

func TestStageSentinels(t *testing.T) {
	tests := map[string]struct {
		asr  messages.Hypothesis
		prep func(m *Mock)
		want string
	}{
		"other is not translated": {
			asr:  messages.OtherHypothesis("1", messages.StageASR),
			prep: func(m *Mock) { m.Fail(messages.Other, errors.New("must not be called")) },
			want: messages.Other,
		},
		"recognizer error passes through": {
			asr:  messages.ErrorHypothesis("1", messages.StageASR),
			want: messages.ErrorSentinel,
		},
		"backend failure": {
			asr:  messages.NewHypothesis("1", messages.StageASR, "ahoj", 1),
			prep: func(m *Mock) { m.Fail("ahoj", errors.New("connection refused")) },
			want: messages.ErrorSentinel,
		},
		"empty translation": {
			asr:  messages.NewHypothesis("1", messages.StageASR, "ehm", 1),
			prep: func(m *Mock) { m.Add("ehm", "") },
			want: messages.Other,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			h := newStageHarness(t)
			if tt.prep != nil {
				tt.prep(h.mock)
			}
			h.hubData.Send(tt.asr)
			out := h.wait(t)
			assert.Equal(t, tt.want, out.Best())
			assert.Equal(t, "1", out.SegmentID)
		})
	}
}

func TestStageFlush(t *testing.T) {
	h := newStageHarness(t)
	h.hubData.Send(messages.NewHypothesis("1", messages.StageASR, "a", 1))
	h.hubData.Send(messages.NewHypothesis("2", messages.StageASR, "b", 1))

	h.stage.Flush()
	h.stage.Flush()
	require.NoError(t, h.stage.Work(context.Background()))
	assert.False(t, h.hubData.Poll())

	h.hubData.Send(messages.NewHypothesis("3", messages.StageASR, "c", 1))
	assert.Equal(t, "C", h.wait(t).Best())
}

func TestWithBreakerFailsFast(t *testing.T) {
	mock := NewMock()
	mock.Fail("broken", errors.New("backend down"))
	breaker := circuitbreaker.NewCircuitBreaker("mt/mock", &circuitbreaker.Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, newTestLogger())
	tr := WithBreaker(mock, breaker)
	ctx := context.Background()

	out, err := tr.Translate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out[0].Text)
	assert.Equal(t, "mock", tr.Name())

	for i := 0; i < 2; i++ {
		_, err = tr.Translate(ctx, "broken")
		require.Error(t, err)
	}
	_, err = tr.Translate(ctx, "hello")
	assert.ErrorIs(t, err, pkg_errors.ErrBackendUnavailable)
}
