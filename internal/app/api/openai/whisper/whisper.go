package whisper

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"innervoice/internal/app/api/provider"
	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

const providerName = "openai"

// RemoteTranscriber sends chunks to the OpenAI audio API.
type RemoteTranscriber struct {
	client *openai.Client
	model  string
}

// NewRemoteTranscriber creates a new RemoteTranscriber instance.
func NewRemoteTranscriber(client *openai.Client, modelName string) *RemoteTranscriber {
	if modelName == "" {
		modelName = openai.Whisper1
	}
	return &RemoteTranscriber{client: client, model: modelName}
}

func (rt *RemoteTranscriber) Name() string {
	return providerName
}

// TranscriptWithOptions uses CreateTranscription or CreateTranslation depending on the task.
func (rt *RemoteTranscriber) TranscriptWithOptions(ctx context.Context, request *provider.TranscriptionRequest) (*provider.TranscriptionResponse, error) {
	if request.InputFilePath == "" {
		return nil, newError(apperrors.KindIO, "invalid_input", "input file path is required", 0)
	}
	if _, err := os.Stat(request.InputFilePath); err != nil {
		return nil, newError(apperrors.KindIO, "file_not_found",
			fmt.Sprintf("input file not found: %s", request.InputFilePath), 0)
	}

	req := openai.AudioRequest{
		Model:    rt.model,
		FilePath: request.InputFilePath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	var (
		resp openai.AudioResponse
		err  error
	)
	if request.Task == model.TaskTranslate {
		// translations always target English and take no language hint
		resp, err = rt.client.CreateTranslation(ctx, req)
	} else {
		req.Language = request.Language
		resp, err = rt.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return nil, handleAPIError(err)
	}

	out := &provider.TranscriptionResponse{
		Text:     strings.TrimSpace(resp.Text),
		Duration: resp.Duration,
		Language: resp.Language,
	}
	if request.WantSegments {
		for _, s := range resp.Segments {
			out.Segments = append(out.Segments, provider.TranscriptionSegment{
				ID:    s.ID,
				Text:  strings.TrimSpace(s.Text),
				Start: s.Start,
				End:   s.End,
			})
		}
	}
	return out, nil
}

// HealthCheck looks up the configured model, which does not start any inference.
func (rt *RemoteTranscriber) HealthCheck(ctx context.Context) (*provider.HealthStatus, error) {
	m, err := rt.client.GetModel(ctx, rt.model)
	if err != nil {
		return nil, handleAPIError(err)
	}
	return &provider.HealthStatus{Status: "healthy", Model: m.ID}, nil
}

func handleAPIError(err error) *provider.TranscriptionError {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		code := fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
		if c, ok := apiErr.Code.(string); ok && c != "" {
			code = c
		}
		return fromStatus(apiErr.HTTPStatusCode, code, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return fromStatus(reqErr.HTTPStatusCode, fmt.Sprintf("http_%d", reqErr.HTTPStatusCode), reqErr.Error())
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return newError(apperrors.KindBackendMalformed, "response_parse_failed", err.Error(), http.StatusOK)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return newError(apperrors.KindBackendTransient, "timeout", err.Error(), 0)
	}
	return newError(apperrors.KindBackendTransient, "request_failed", err.Error(), 0)
}

func fromStatus(status int, code, message string) *provider.TranscriptionError {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		return newError(apperrors.KindBackendBusy, code, message, status)
	case status >= 500:
		if provider.IsBusyMessage(message) {
			return newError(apperrors.KindBackendBusy, code, message, status)
		}
		return newError(apperrors.KindBackendTransient, code, message, status)
	default:
		return newError(apperrors.KindBackendMalformed, code, message, status)
	}
}

func newError(kind apperrors.Kind, code, message string, status int) *provider.TranscriptionError {
	return &provider.TranscriptionError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		Provider:   providerName,
		StatusCode: status,
	}
}
