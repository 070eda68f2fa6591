package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout <= 0 {
		return fmt.Errorf("%s timeout must be positive", name)
	}
	if timeout > 30*time.Minute {
		return fmt.Errorf("%s timeout too large (max 30 minutes)", name)
	}
	return nil
}

// ValidateRetries validates an attempt ceiling
func ValidateRetries(retries int, name string) error {
	if retries < 1 {
		return fmt.Errorf("%s attempts must be at least 1", name)
	}
	if retries > 10 {
		return fmt.Errorf("%s attempts too high (max 10)", name)
	}
	return nil
}

// ValidateBackoff validates an initial/max backoff pair
func ValidateBackoff(initial, max time.Duration, name string) error {
	if initial <= 0 {
		return fmt.Errorf("%s initial backoff must be positive", name)
	}
	if max < initial {
		return fmt.Errorf("%s max backoff must not be below the initial backoff", name)
	}
	if max > 10*time.Minute {
		return fmt.Errorf("%s max backoff too high (max 10 minutes)", name)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(url string, name string) error {
	if url == "" {
		return fmt.Errorf("%s URL is required", name)
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("%s URL must start with http:// or https://", name)
	}

	return nil
}

// ValidatePositive validates that a numeric setting is above zero
func ValidatePositive(value float64, name string) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// ValidateAPIKey validates OpenAI API key format
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if !strings.HasPrefix(apiKey, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format: must start with 'sk-'")
	}
	if len(apiKey) < 20 {
		return fmt.Errorf("invalid OpenAI API key format: too short")
	}
	return nil
}
