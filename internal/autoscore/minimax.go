package autoscore

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"spark/internal/config"
)

// MinimaxJudge asks a MiniMax chat model whether an acted recommendation
// helped. It is optional: construction fails without credentials and the
// caller proceeds with deterministic rules.
type MinimaxJudge struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewMinimaxJudge builds the judge from configuration.
func NewMinimaxJudge(cfg config.AutoscoreConfig) (*MinimaxJudge, error) {
	if cfg.MinimaxAPIKey == "" {
		return nil, fmt.Errorf("minimax api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.MinimaxAPIKey)
	clientCfg.BaseURL = cfg.MinimaxBaseURL
	return &MinimaxJudge{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.MinimaxModel,
		timeout: time.Duration(cfg.MinimaxTimeoutS) * time.Second,
	}, nil
}

const judgePrompt = `You score whether a recommendation given to a coding agent helped.
Answer with exactly one word: positive, negative, or neutral.`

// JudgeEffect implements EffectLLM with a hard timeout.
func (m *MinimaxJudge) JudgeEffect(ctx context.Context, recommendation, evidence string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	user := "Recommendation: " + recommendation
	if evidence != "" {
		user += "\nWhat happened next: " + evidence
	}
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgePrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: 4,
	})
	if err != nil {
		return "", fmt.Errorf("minimax judge: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("minimax judge: empty response")
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	switch {
	case strings.HasPrefix(answer, "positive"):
		return EffectPositive, nil
	case strings.HasPrefix(answer, "negative"):
		return EffectNegative, nil
	case strings.HasPrefix(answer, "neutral"):
		return EffectNeutral, nil
	}
	return "", fmt.Errorf("minimax judge: unrecognized answer %q", answer)
}
