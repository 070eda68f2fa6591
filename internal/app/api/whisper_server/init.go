package whisper_server

import (
	"fmt"

	"innervoice/internal/app/api/provider"
)

func init() {
	provider.RegisterProvider(providerName, createWhisperServerProvider)
}

func createWhisperServerProvider(settings provider.Settings) (provider.TranscriptionProvider, error) {
	p := NewWhisperServerProvider(WhisperServerConfig{
		BaseURL:       settings.BaseURL,
		Timeout:       settings.Timeout,
		CustomHeaders: settings.CustomHeaders,
	})
	if err := p.ValidateConfiguration(); err != nil {
		return nil, fmt.Errorf("whisper_server provider: %w", err)
	}
	return p, nil
}
