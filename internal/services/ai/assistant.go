package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/HammerMeetNail/globenis/internal/config"
	"github.com/HammerMeetNail/globenis/internal/logging"
)

const MaxQuestionLength = 1000

// Handlers map these to 503, 503, 400, 429 and 400.
var (
	ErrAIProviderUnavailable = errors.New("the tennis assistant is unavailable right now")
	ErrAINotConfigured       = errors.New("the tennis assistant is not configured")
	ErrSafetyViolation       = errors.New("the reply was blocked by safety filters")
	ErrRateLimitExceeded     = errors.New("assistant rate limit exceeded")
	ErrInvalidInput          = errors.New("question must be 1-1000 characters")
)

const coachInstruction = `You are "Chatsport", an expert tennis assistant. You help players of every level with:
1. Tennis technique (groundstrokes, serves, volleys, tactics)
2. Sports nutrition for tennis players
3. Training advice and improving their game
4. Injury prevention
5. The mental side of tennis

Answer clearly, concisely and in a friendly tone. Use relevant emojis (🎾, 💪, 🥗, ...) to make answers more visual.

If the question is not about tennis, sports nutrition or fitness, kindly say that you can only help with tennis topics.

Player question: %s

Structure the answer with bullets when useful and keep it between 100 and 200 words.`

const stubReply = "🎾 Chatsport is running in stub mode. Here is a generic tip: focus on early preparation, " +
	"keep your eyes on the ball through contact and recover to the center after every shot. 💪"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Assistant answers single tennis questions. No conversation history is
// sent: every question is a standalone request.
type Assistant struct {
	models contentGenerator
	cfg    config.AIConfig
}

func NewAssistant(ctx context.Context, cfg config.AIConfig) (*Assistant, error) {
	if cfg.Stub {
		return &Assistant{cfg: cfg}, nil
	}
	if cfg.GeminiAPIKey == "" {
		return nil, ErrAINotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Assistant{models: client.Models, cfg: cfg}, nil
}

func (a *Assistant) Ask(ctx context.Context, userID uuid.UUID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" || utf8.RuneCountInString(question) > MaxQuestionLength {
		return "", ErrInvalidInput
	}
	if a.cfg.Stub {
		return stubReply, nil
	}
	if a.models == nil {
		return "", ErrAINotConfigured
	}

	resp, err := a.models.GenerateContent(ctx, a.cfg.GeminiModel,
		genai.Text(fmt.Sprintf(coachInstruction, question)),
		a.generationConfig(),
	)
	if err != nil {
		logging.Error("Assistant request failed", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return "", classifyProviderError(err)
	}
	return replyText(resp)
}

func (a *Assistant) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(a.cfg.GeminiTemperature)),
		TopK:            genai.Ptr(float32(a.cfg.GeminiTopK)),
		TopP:            genai.Ptr(float32(a.cfg.GeminiTopP)),
		MaxOutputTokens: int32(a.cfg.GeminiMaxOutputTokens),
	}
}

func replyText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrAIProviderUnavailable
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", ErrSafetyViolation
	}
	if len(resp.Candidates) > 0 {
		switch resp.Candidates[0].FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
			return "", ErrSafetyViolation
		}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrAIProviderUnavailable
	}
	return text, nil
}

func classifyProviderError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAIProviderUnavailable, err)
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimitExceeded
	case http.StatusBadRequest:
		return ErrInvalidInput
	}
	return fmt.Errorf("%w: %v", ErrAIProviderUnavailable, err)
}
