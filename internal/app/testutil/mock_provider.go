package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"innervoice/internal/app/api/provider"
	"innervoice/internal/app/model"
)

// ProviderCall records one TranscriptWithOptions invocation.
type ProviderCall struct {
	InputFilePath string
	Task          model.Task
	Language      string
	WantSegments  bool
	Timestamp     time.Time
	Err           error
}

// Step is one scripted backend answer.
type Step struct {
	Response *provider.TranscriptionResponse
	Err      error
}

// MockProvider is a mock implementation of provider.TranscriptionProvider.
//
// Answers come from, in order: the per-file script, the default script,
// testify expectations when any were registered, and finally DefaultText.
type MockProvider struct {
	mock.Mock
	mu sync.Mutex

	ProviderName string
	DefaultText  string
	Health       *provider.HealthStatus
	HealthErr    error

	script     []Step
	fileScript map[string][]Step
	calls      []ProviderCall
	useMock    bool

	// OnCall runs before the answer is chosen, useful for blocking a worker.
	OnCall func(req *provider.TranscriptionRequest)
}

// NewMockProvider creates a MockProvider answering "mock transcription".
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ProviderName: "mock",
		DefaultText:  "mock transcription",
		Health:       &provider.HealthStatus{Status: "healthy", Model: "mock-large"},
		fileScript:   make(map[string][]Step),
	}
}

// Name implements provider.TranscriptionProvider.
func (m *MockProvider) Name() string {
	return m.ProviderName
}

// TranscriptWithOptions implements provider.TranscriptionProvider.
func (m *MockProvider) TranscriptWithOptions(ctx context.Context, req *provider.TranscriptionRequest) (*provider.TranscriptionResponse, error) {
	if m.OnCall != nil {
		m.OnCall(req)
	}

	m.mu.Lock()
	step, scripted := m.nextStep(req.InputFilePath)
	useMock := m.useMock
	m.mu.Unlock()

	var resp *provider.TranscriptionResponse
	var err error
	switch {
	case scripted:
		resp, err = step.Response, step.Err
	case useMock:
		args := m.Called(ctx, req)
		if r := args.Get(0); r != nil {
			resp = r.(*provider.TranscriptionResponse)
		}
		err = args.Error(1)
	default:
		resp = &provider.TranscriptionResponse{Text: m.DefaultText}
	}

	m.mu.Lock()
	m.calls = append(m.calls, ProviderCall{
		InputFilePath: req.InputFilePath,
		Task:          req.Task,
		Language:      req.Language,
		WantSegments:  req.WantSegments,
		Timestamp:     time.Now(),
		Err:           err,
	})
	m.mu.Unlock()
	return resp, err
}

// HealthCheck implements provider.TranscriptionProvider.
func (m *MockProvider) HealthCheck(ctx context.Context) (*provider.HealthStatus, error) {
	return m.Health, m.HealthErr
}

func (m *MockProvider) nextStep(path string) (Step, bool) {
	if steps := m.fileScript[path]; len(steps) > 0 {
		m.fileScript[path] = steps[1:]
		return steps[0], true
	}
	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step, true
	}
	return Step{}, false
}

// Then appends scripted answers consumed by any call.
func (m *MockProvider) Then(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// ThenForFile appends scripted answers for one chunk path.
func (m *MockProvider) ThenForFile(path string, steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileScript[path] = append(m.fileScript[path], steps...)
	return m
}

// ExpectTranscript routes unscripted calls through testify expectations.
func (m *MockProvider) ExpectTranscript(resp *provider.TranscriptionResponse, err error) *mock.Call {
	m.mu.Lock()
	m.useMock = true
	m.mu.Unlock()
	return m.On("TranscriptWithOptions", mock.Anything, mock.Anything).Return(resp, err)
}

// Calls returns a copy of the call history.
func (m *MockProvider) Calls() []ProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of transcription calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Text is a successful step.
func Text(text string) Step {
	return Step{Response: &provider.TranscriptionResponse{Text: text}}
}

// Fail is a failing step.
func Fail(err error) Step {
	return Step{Err: err}
}

// Repeat returns n copies of step.
func Repeat(step Step, n int) []Step {
	out := make([]Step, n)
	for i := range out {
		out[i] = step
	}
	return out
}

var _ provider.TranscriptionProvider = (*MockProvider)(nil)
