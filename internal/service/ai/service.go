package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/LifeNeedZoya/chat-backend/internal/models"
)

// Service wraps the Gemini client used for chat generation. The client is
// constructed once at startup with the process-wide API key and passed in
// explicitly wherever generation happens.
type Service struct {
	client *genai.Client
	model  string
}

// NewService builds the generation client for the given model.
func NewService(ctx context.Context, apiKey, model string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Service{client: client, model: model}, nil
}

// FormatMessages maps the application's role vocabulary onto the
// provider's: user stays user, assistant becomes model. Any other role is
// silently dropped. Pure: no side effects, no I/O.
func FormatMessages(messages []models.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case models.RoleUser:
			role = string(genai.RoleUser)
		case models.RoleAssistant:
			role = string(genai.RoleModel)
		default:
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents
}

// StreamChat opens a streaming generation call and relays each text
// fragment through onFragment as it arrives, pull-driven: the next
// fragment is not requested until the previous one has been forwarded.
// The accumulated response text is returned alongside any error; on a
// mid-stream failure it holds everything relayed so far.
func (s *Service) StreamChat(ctx context.Context, messages []models.ChatMessage, onFragment func(string) error) (string, error) {
	contents := FormatMessages(messages)

	var full strings.Builder
	for resp, err := range s.client.Models.GenerateContentStream(ctx, s.model, contents, nil) {
		if err != nil {
			return full.String(), fmt.Errorf("generate stream: %w", err)
		}
		fragment := resp.Text()
		if fragment == "" {
			continue
		}
		full.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return full.String(), err
			}
		}
	}
	return full.String(), nil
}
