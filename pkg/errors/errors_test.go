package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesLocation(t *testing.T) {
	err := New("store write failed")
	require.NotNil(t, err)
	assert.Equal(t, "store write failed", err.Error())
	assert.Contains(t, err.Location(), "errors_test.go:")
}

func TestWrapKeepsCause(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(base, "saving call history", map[string]interface{}{"path": "call_db.json"})

	assert.Equal(t, "saving call history: disk full", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, "call_db.json", err.GetFields()["path"])
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithFieldDoesNotMutateOriginal(t *testing.T) {
	err := New("hangup failed")
	withCall := err.WithField("remote_uri", "sip:alice@example.com").WithCode("HANGUP")

	assert.Empty(t, err.GetFields())
	assert.Empty(t, err.GetCode())
	assert.Equal(t, "sip:alice@example.com", withCall.GetFields()["remote_uri"])
	assert.Equal(t, "HANGUP", GetErrorCode(withCall))
}

func TestCommandErrors(t *testing.T) {
	malformed := NewMalformedCommand(`make_call(destination="x`, "unterminated string")
	assert.True(t, IsErrorType(malformed, ErrMalformedCommand))
	assert.Equal(t, "MALFORMED_COMMAND", GetErrorCode(malformed))

	unknown := fmt.Errorf("dispatch: %w", NewUnknownCommand("dance"))
	assert.True(t, IsErrorType(unknown, ErrUnknownCommand))
	assert.Equal(t, "dance", GetErrorFields(unknown)["command"])
}

func TestStageFaultError(t *testing.T) {
	cause := errors.New("socket closed")
	fault := &StageFaultError{Stage: "telephony", Err: cause}
	assert.True(t, errors.Is(fault, ErrStageFault))
	assert.True(t, errors.Is(fault, cause))
	assert.Contains(t, fault.Error(), "telephony")

	panicked := &StageFaultError{Stage: "mt", Panic: "index out of range"}
	assert.True(t, errors.Is(panicked, ErrStageFault))
	assert.Contains(t, panicked.Error(), "panicked")
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, Wrap(ErrStoreUnavailable, "loading call history"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "loading call history")

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
