package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// transcriber is the subset of *openai.Client used by OpenAIEngine.
type transcriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIEngine sends utterances to an OpenAI-compatible transcription endpoint
// such as faster-whisper-server.
type OpenAIEngine struct {
	client transcriber
	model  string
	spec   Spec
	log    *slog.Logger
}

// NewOpenAIEngine builds a client for baseURL. remoteModel is the model name
// the server expects; it defaults to spec.Model.
func NewOpenAIEngine(baseURL, apiKey, remoteModel string, spec Spec, logger *slog.Logger) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return newOpenAIEngine(openai.NewClientWithConfig(cfg), remoteModel, spec, logger)
}

func newOpenAIEngine(client transcriber, remoteModel string, spec Spec, logger *slog.Logger) *OpenAIEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(remoteModel) == "" {
		remoteModel = spec.Model
	}
	return &OpenAIEngine{
		client: client,
		model:  remoteModel,
		spec:   spec,
		log:    logger.With("component", "engine.openai", "model", remoteModel),
	}
}

// Transcribe implements the Engine interface.
func (e *OpenAIEngine) Transcribe(ctx context.Context, samples []float32, opts Options) ([]Segment, error) {
	req := openai.AudioRequest{
		Model:    e.model,
		Reader:   bytes.NewReader(encodeWAV(samples)),
		FilePath: "utterance.wav",
		Prompt:   opts.InitialPrompt,
		Language: strings.TrimSpace(opts.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Segments) == 0 {
		return spaceSegments([]Segment{{Text: resp.Text, Confidence: 1}}), nil
	}
	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		if opts.NoSpeechThreshold > 0 && seg.NoSpeechProb > opts.NoSpeechThreshold {
			e.log.Debug("dropping silent segment", "no_speech_prob", seg.NoSpeechProb)
			continue
		}
		segments = append(segments, Segment{
			Text:       seg.Text,
			Confidence: float32(math.Exp(seg.AvgLogprob)),
		})
	}
	return spaceSegments(segments), nil
}

// Close implements the Engine interface.
func (e *OpenAIEngine) Close() error {
	return nil
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return fmt.Errorf("engine: openai transcription: %w", err)
}
