package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-1.5-flash"

// SystemInstruction frames every generation request
const SystemInstruction = "You are a careful business analyst. Ground every statement in the supplied insights and policies. Never invent figures, names or policy clauses."

// GeminiConfig configures a GeminiBackend
type GeminiConfig struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// GeminiBackend generates text with a Gemini model
type GeminiBackend struct {
	model *genai.GenerativeModel
	name  string
}

// NewGeminiBackend creates a backend on an existing client. The client is
// owned by the caller.
func NewGeminiBackend(client *genai.Client, cfg GeminiConfig) (*GeminiBackend, error) {
	if client == nil {
		return nil, errors.New("gemini client is nil")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemInstruction)},
	}

	return &GeminiBackend{model: model, name: "gemini:" + cfg.Model}, nil
}

// Name identifies the backend in logs and audit records
func (g *GeminiBackend) Name() string { return g.name }

// Generate sends prompt and concatenates the text parts of the first candidate
func (g *GeminiBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", NewPermanentError(fmt.Errorf("gemini blocked the request: %w", err))
		}
		return "", classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates: %w", ErrEmptyResponse)
	}

	var b strings.Builder
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}

	out := b.String()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("gemini candidate finished with reason %s: %w", cand.FinishReason, ErrEmptyResponse)
	}
	return out, nil
}

// classifyGeminiError marks rejected requests (bad arguments, credentials or
// model names) as permanent. Everything else stays retryable.
func classifyGeminiError(err error) error {
	if isRejectedByGemini(err) {
		return NewPermanentError(fmt.Errorf("%w: gemini rejected the request: %w", ErrUnavailable, err))
	}
	return fmt.Errorf("gemini generate: %w", err)
}

func isRejectedByGemini(err error) bool {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if rejectedCode(apiErr.GRPCStatus().Code()) || rejectedStatus(apiErr.HTTPCode()) {
			return true
		}
	}
	var httpErr *googleapi.Error
	if errors.As(err, &httpErr) && rejectedStatus(httpErr.Code) {
		return true
	}
	if st, ok := status.FromError(err); ok && rejectedCode(st.Code()) {
		return true
	}
	return false
}

func rejectedCode(c codes.Code) bool {
	switch c {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound, codes.FailedPrecondition:
		return true
	}
	return false
}

func rejectedStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
