package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Settings configures any backend; each factory reads the fields it needs.
type Settings struct {
	BaseURL       string            `yaml:"base_url"`
	Timeout       time.Duration     `yaml:"timeout"`
	CustomHeaders map[string]string `yaml:"custom_headers"`
	APIKey        string            `yaml:"api_key"`
	Model         string            `yaml:"model"`
}

// Factory builds a provider from settings.
type Factory func(settings Settings) (TranscriptionProvider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterProvider makes a provider kind available to NewProvider. It is called from init functions.
func RegisterProvider(kind string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if kind == "" || factory == nil {
		panic("provider: RegisterProvider requires a kind and a factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("provider: %q registered twice", kind))
	}
	factories[kind] = factory
}

// NewProvider builds a registered provider kind.
func NewProvider(kind string, settings Settings) (TranscriptionProvider, error) {
	mu.RLock()
	factory, ok := factories[kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered (available: %v)", kind, AvailableProviders())
	}
	return factory(settings)
}

// AvailableProviders returns the registered kinds, sorted.
func AvailableProviders() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
