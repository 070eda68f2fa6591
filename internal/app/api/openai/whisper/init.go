package whisper

import (
	"fmt"

	"innervoice/internal/app/api/openai"
	"innervoice/internal/app/api/provider"
	"innervoice/internal/config"
)

func init() {
	provider.RegisterProvider(providerName, createOpenAIProvider)
}

// createOpenAIProvider creates an OpenAI Whisper provider from configuration
func createOpenAIProvider(settings provider.Settings) (provider.TranscriptionProvider, error) {
	if err := config.ValidateAPIKey(settings.APIKey); err != nil {
		return nil, fmt.Errorf("openai provider: %w", err)
	}
	client := openai.NewClient(settings.APIKey, settings.BaseURL, settings.Timeout)
	return NewRemoteTranscriber(client, settings.Model), nil
}
