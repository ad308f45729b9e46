package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Kind selects the analysis prompt for an uploaded document image.
type Kind string

const (
	KindPolicy  Kind = "policy"
	KindIDCard  Kind = "idcard"
	KindVehicle Kind = "vehicle"
	KindGeneral Kind = "general"
)

const maxImageBytes = 8 << 20

var kindPrompts = map[Kind]string{
	KindPolicy:  "이 보험증권 이미지에서 상품명, 피보험자, 보험기간, 월 보험료, 주요 담보 내용을 추출해 정리해 주세요.",
	KindIDCard:  "이 신분증 이미지에서 이름, 생년월일, 주소를 추출해 주세요. 읽을 수 없는 항목은 '확인 불가'로 표시하세요.",
	KindVehicle: "이 차량 사진을 보고 차종, 파손 부위, 파손 정도를 설명해 주세요.",
	KindGeneral: "이 이미지의 내용을 보험 상담 맥락에서 분석해 주세요.",
}

// Prompt returns the instruction for the kind. Unknown kinds get the general
// prompt.
func (k Kind) Prompt() string {
	if p, ok := kindPrompts[k]; ok {
		return p
	}
	return kindPrompts[KindGeneral]
}

// Analyzer sends document images to a multimodal chat model and returns the
// analysis text.
type Analyzer struct {
	api   openaigo.Client
	model string
}

func NewAnalyzer(apiKey, model string, extra ...option.RequestOption) *Analyzer {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		option.WithMaxRetries(2),
	}
	opts = append(opts, extra...)
	return &Analyzer{api: openaigo.NewClient(opts...), model: model}
}

// Analyze submits one image as a base64 data URL together with the kind's
// prompt. mime defaults to image/jpeg when blank.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mime string, kind Kind) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("vision: empty image")
	}
	if len(image) > maxImageBytes {
		return "", fmt.Errorf("vision: image too large (%d bytes)", len(image))
	}
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	parts := []openaigo.ChatCompletionContentPartUnionParam{
		openaigo.TextContentPart(kind.Prompt()),
		openaigo.ImageContentPart(openaigo.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}
	resp, err := a.api.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(a.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{openaigo.UserMessage(parts)},
	})
	if err != nil {
		return "", fmt.Errorf("vision: analyze image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
