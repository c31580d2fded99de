package circuitbreaker

import "time"

// RecognizerConfig suits speech recognition backends. Requests are slow and
// a recognizer that keeps failing is retried soon.
func RecognizerConfig() *Config {
	return &Config{
		FailureThreshold:   3,
		SuccessThreshold:   1,
		Timeout:            15 * time.Second,
		MaxTimeout:         2 * time.Minute,
		RequestTimeout:     45 * time.Second,
		ExponentialBackoff: true,
	}
}

// TranslatorConfig suits machine translation backends
func TranslatorConfig() *Config {
	return &Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            20 * time.Second,
		MaxTimeout:         3 * time.Minute,
		RequestTimeout:     20 * time.Second,
		ExponentialBackoff: true,
	}
}

// SynthesizerConfig suits speech synthesis backends
func SynthesizerConfig() *Config {
	return &Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            20 * time.Second,
		MaxTimeout:         3 * time.Minute,
		RequestTimeout:     30 * time.Second,
		ExponentialBackoff: true,
	}
}
