package stt

import (
	"errors"
)

// Error definitions
var (
	ErrProviderNotFound     = errors.New("requested speech-to-text backend not found")
	ErrInitializationFailed = errors.New("recognizer initialization failed")
	ErrRecognitionFailed    = errors.New("recognition failed")
)
