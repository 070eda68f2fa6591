package whisper_server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"innervoice/internal/app/api/provider"
	apperrors "innervoice/internal/app/errors"
)

const providerName = "whisper_server"

// WhisperServerProvider implements transcription via HTTP to a whisper inference server
type WhisperServerProvider struct {
	config WhisperServerConfig
	client *http.Client
}

// WhisperServerConfig represents configuration for the whisper server HTTP API
type WhisperServerConfig struct {
	BaseURL        string            `yaml:"base_url"`        // e.g. "http://whisper:5000"
	TranscribePath string            `yaml:"transcribe_path"` // default "/transcribe"
	HealthPath     string            `yaml:"health_path"`     // default "/health"
	GPUCheckPath   string            `yaml:"gpu_check_path"`  // default "/gpu-check"
	Timeout        time.Duration     `yaml:"timeout"`         // per request, default 10 minutes
	CustomHeaders  map[string]string `yaml:"custom_headers"`
}

// WhisperServerResponse represents the response from the whisper server
type WhisperServerResponse struct {
	Text     *string                `json:"text"`
	Segments []WhisperServerSegment `json:"segments,omitempty"`
	Duration float64                `json:"duration,omitempty"`
	Language string                 `json:"language,omitempty"`
}

// WhisperServerSegment represents a segment in a segmented response
type WhisperServerSegment struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// errorBody is the JSON error shape, e.g. {"error":"gpu_busy","message":"..."}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GPUCheck is the /gpu-check diagnostic.
type GPUCheck struct {
	GPU         json.RawMessage `json:"gpu"`
	ModelLoaded bool            `json:"model_loaded"`
}

// NewWhisperServerProvider creates a new whisper server HTTP provider
func NewWhisperServerProvider(config WhisperServerConfig) *WhisperServerProvider {
	if config.TranscribePath == "" {
		config.TranscribePath = "/transcribe"
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}
	if config.GPUCheckPath == "" {
		config.GPUCheckPath = "/gpu-check"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.CustomHeaders == nil {
		config.CustomHeaders = make(map[string]string)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &WhisperServerProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Name implements provider.TranscriptionProvider
func (wsp *WhisperServerProvider) Name() string {
	return providerName
}

// TranscriptWithOptions sends one chunk to POST {base}/transcribe
func (wsp *WhisperServerProvider) TranscriptWithOptions(ctx context.Context, request *provider.TranscriptionRequest) (*provider.TranscriptionResponse, error) {
	if request.InputFilePath == "" {
		return nil, wsp.newError(apperrors.KindIO, "invalid_input", "input file path is required", 0)
	}
	if _, err := os.Stat(request.InputFilePath); err != nil {
		return nil, wsp.newError(apperrors.KindIO, "file_not_found",
			fmt.Sprintf("input file not found: %s", request.InputFilePath), 0)
	}

	body, contentType, err := wsp.createMultipartForm(request)
	if err != nil {
		return nil, wsp.newError(apperrors.KindIO, "form_creation_failed",
			fmt.Sprintf("failed to create multipart form: %v", err), 0)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, wsp.config.BaseURL+wsp.config.TranscribePath, body)
	if err != nil {
		return nil, wsp.newError(apperrors.KindBackendMalformed, "request_creation_failed",
			fmt.Sprintf("failed to create HTTP request: %v", err), 0)
	}
	httpReq.Header.Set("Content-Type", contentType)
	for key, value := range wsp.config.CustomHeaders {
		httpReq.Header.Set(key, value)
	}

	resp, err := wsp.client.Do(httpReq)
	if err != nil {
		code := "request_failed"
		if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = "timeout"
		}
		return nil, wsp.newError(apperrors.KindBackendTransient, code,
			fmt.Sprintf("HTTP request failed: %v", err), 0)
	}
	defer resp.Body.Close()

	responseData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wsp.newError(apperrors.KindBackendTransient, "response_read_failed",
			fmt.Sprintf("failed to read response: %v", err), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, wsp.classifyStatus(resp.StatusCode, responseData)
	}

	return wsp.parseResponse(responseData)
}

// classifyStatus maps a non-200 answer onto busy, transient or malformed.
func (wsp *WhisperServerProvider) classifyStatus(status int, data []byte) *provider.TranscriptionError {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := strings.TrimSpace(eb.Message)
	if msg == "" {
		msg = strings.TrimSpace(eb.Error)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	code := eb.Error
	if code == "" || len(code) > 40 {
		code = "http_" + strconv.Itoa(status)
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable && provider.IsBusyMessage(eb.Error),
		status >= 500 && provider.IsBusyMessage(string(data)):
		e := wsp.newError(apperrors.KindBackendBusy, code, msg, status)
		e.Suggestions = []string{"Wait until the GPU is free", "Retry the job manually"}
		return e
	case status >= 500:
		return wsp.newError(apperrors.KindBackendTransient, code, fmt.Sprintf("API returned status %d: %s", status, msg), status)
	default:
		return wsp.newError(apperrors.KindBackendMalformed, code, fmt.Sprintf("API rejected request with status %d: %s", status, msg), status)
	}
}

// createMultipartForm creates the multipart form for the API request
func (wsp *WhisperServerProvider) createMultipartForm(request *provider.TranscriptionRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	file, err := os.Open(request.InputFilePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("audio", filepath.Base(request.InputFilePath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %v", err)
	}
	if _, err = io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy file content: %v", err)
	}

	task := string(request.Task)
	if task == "" {
		task = "transcribe"
	}
	params := map[string]string{
		"task":            task,
		"return_segments": strconv.FormatBool(request.WantSegments),
	}
	if request.Language != "" {
		params["language"] = request.Language
	}

	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %v", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %v", err)
	}

	return body, writer.FormDataContentType(), nil
}

// parseResponse decodes a 200 answer; a body without a text field is malformed.
func (wsp *WhisperServerProvider) parseResponse(data []byte) (*provider.TranscriptionResponse, error) {
	var resp WhisperServerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, wsp.newError(apperrors.KindBackendMalformed, "response_parse_failed",
			fmt.Sprintf("failed to parse JSON response: %v", err), http.StatusOK)
	}
	if resp.Text == nil {
		return nil, wsp.newError(apperrors.KindBackendMalformed, "missing_text",
			"no text field found in response", http.StatusOK)
	}

	out := &provider.TranscriptionResponse{
		Text:     strings.TrimSpace(*resp.Text),
		Duration: resp.Duration,
		Language: resp.Language,
	}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, provider.TranscriptionSegment{
			ID:    s.ID,
			Text:  strings.TrimSpace(s.Text),
			Start: s.Start,
			End:   s.End,
		})
	}
	return out, nil
}

// HealthCheck queries GET {base}/health, which never loads the model
func (wsp *WhisperServerProvider) HealthCheck(ctx context.Context) (*provider.HealthStatus, error) {
	var status provider.HealthStatus
	if err := wsp.getJSON(ctx, wsp.config.HealthPath, &status); err != nil {
		return nil, err
	}
	if status.Status == "" {
		status.Status = "unknown"
	}
	return &status, nil
}

// GPUCheck queries the GPU diagnostic endpoint
func (wsp *WhisperServerProvider) GPUCheck(ctx context.Context) (*GPUCheck, error) {
	var check GPUCheck
	if err := wsp.getJSON(ctx, wsp.config.GPUCheckPath, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

func (wsp *WhisperServerProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wsp.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	for key, value := range wsp.config.CustomHeaders {
		req.Header.Set(key, value)
	}

	resp, err := wsp.client.Do(req)
	if err != nil {
		return wsp.newError(apperrors.KindBackendTransient, "request_failed", err.Error(), 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wsp.newError(apperrors.KindBackendTransient, "response_read_failed", err.Error(), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return wsp.classifyStatus(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return wsp.newError(apperrors.KindBackendMalformed, "response_parse_failed", err.Error(), resp.StatusCode)
	}
	return nil
}

// ValidateConfiguration validates the provider configuration
func (wsp *WhisperServerProvider) ValidateConfiguration() error {
	if wsp.config.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if !strings.HasPrefix(wsp.config.BaseURL, "http://") && !strings.HasPrefix(wsp.config.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https://")
	}
	if wsp.config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (wsp *WhisperServerProvider) newError(kind apperrors.Kind, code, message string, status int) *provider.TranscriptionError {
	return &provider.TranscriptionError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Provider:   providerName,
		StatusCode: status,
	}
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	return stderrors.As(err, &te) && te.Timeout()
}
