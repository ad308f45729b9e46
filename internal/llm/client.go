package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/convo"
)

// ApologyReply is what handlers surface to the user when completion fails for
// any reason. The real error goes to the log, never to the user.
const ApologyReply = "죄송합니다. 지금은 답변을 드리기 어렵습니다. 잠시 후 다시 시도해 주세요."

// Persona selects one of the fixed system instructions. There is no free-form
// runtime prompt text.
type Persona string

const (
	PersonaAssistant Persona = "assistant"
	PersonaMentor    Persona = "mentor"
)

const assistantInstructions = "당신은 보험설계사의 업무 비서 '지니'입니다. " +
	"고객 관리, 상담 예약, 보험 상품 안내를 돕습니다. 한국어로 간결하고 정중하게 답하세요."

const mentorInstructions = "당신은 20년 경력의 보험 영업 멘토입니다. " +
	"설계사의 상담 화법과 영업 전략을 구체적인 예시와 함께 코칭하세요. 한국어로 답하세요."

// Instructions returns the system prompt for the persona. Unknown values fall
// back to the assistant persona.
func (p Persona) Instructions() string {
	if p == PersonaMentor {
		return mentorInstructions
	}
	return assistantInstructions
}

// Client produces chat replies over the OpenAI chat completions API.
type Client struct {
	api   openaigo.Client
	model string
}

// NewClient builds a Client. Extra options are applied after the defaults so
// tests can redirect the base URL.
func NewClient(apiKey, model string, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		option.WithMaxRetries(2),
	}
	opts = append(opts, extra...)
	return &Client{api: openaigo.NewClient(opts...), model: model}
}

// Reply sends the persona system message, the recent conversation pairs and
// the new user message, and returns the assistant's text.
func (c *Client) Reply(ctx context.Context, persona Persona, history []convo.Pair, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("llm: empty message")
	}

	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openaigo.SystemMessage(persona.Instructions()))
	for _, p := range history {
		if p.Speaker == convo.SpeakerAgent {
			messages = append(messages, openaigo.AssistantMessage(p.Text))
		} else {
			messages = append(messages, openaigo.UserMessage(p.Text))
		}
	}
	messages = append(messages, openaigo.UserMessage(message))

	resp, err := c.api.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
