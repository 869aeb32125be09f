package scoring

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

const defaultSystemPrompt = `You are a sales assistant qualifying inbound leads for a business over chat.

For every conversation you receive, reply with ONE JSON object and nothing else:
{
  "response": "the next message to send to the customer, in their language",
  "is_qualified_lead": true or false,
  "lead_score": 0-10,
  "lead_type": "short category tag, e.g. serious_quote, price_inquiry, general_question",
  "summary_for_seller": "one or two sentences a salesperson can act on",
  "rationale": "why you scored it this way"
}

Score 8-10 for customers ready to buy with concrete project details, 5-7 for
real interest missing details, 0-4 for casual questions. Qualify a lead only
when there is genuine purchase intent.`

// OpenAIConfig holds settings for the chat-completion scorer.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

// OpenAIScorer scores context windows through an OpenAI-compatible
// chat-completion endpoint.
type OpenAIScorer struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *logging.Logger
}

// NewOpenAIScorer creates a scorer. Returns nil when no API key is configured.
func NewOpenAIScorer(cfg OpenAIConfig, logger *logging.Logger) *OpenAIScorer {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	return &OpenAIScorer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: prompt,
		logger:       logger,
	}
}

// ScoreLead sends the windowed context plus example transcripts to the model
// and returns its assessment.
func (s *OpenAIScorer) ScoreLead(ctx context.Context, correspondentID string, window []session.Turn, examples []Example) (*Assessment, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("scoring: scorer not configured")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.buildSystemPrompt(examples)},
			{Role: openai.ChatMessageRoleUser, Content: FormatTranscript(window)},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scoring: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("scoring: no completion choices")
	}

	assessment, err := ParseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	s.logger.Info("lead scored",
		"correspondent", correspondentID,
		"score", assessment.Score,
		"qualified", assessment.Qualified,
		"lead_type", assessment.LeadType,
	)
	return assessment, nil
}

func (s *OpenAIScorer) buildSystemPrompt(examples []Example) string {
	if len(examples) == 0 {
		return s.systemPrompt
	}

	var b strings.Builder
	b.WriteString(s.systemPrompt)
	b.WriteString("\n\nReference transcripts from past qualified leads:\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "\nEXAMPLE %d - %s (score %d/10):\n%s", i+1, strings.ToUpper(ex.LeadType), ex.Score, ex.Transcript)
	}
	return b.String()
}
