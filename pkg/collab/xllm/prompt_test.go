package xllm

import (
	"context"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xfunnel/pkg/resilience/xfault"
)

func TestBrief_Render(t *testing.T) {
	out, err := Brief{
		Product:  "Focus timer app",
		Step:     StepLanding,
		Audience: "remote workers",
		Language: "French",
		Notes:    []string{"mention free trial", "no emojis"},
	}.Render()
	require.NoError(t, err)

	want := `Write the landing page copy for a sales funnel.
Product: Focus timer app
Audience: remote workers
Respond in French.
Notes:
- mention free trial
- no emojis
`
	assert.Equal(t, want, out)
}

func TestBrief_RenderMinimal(t *testing.T) {
	out, err := Brief{Product: "Course", Step: StepUpsell}.Render()
	require.NoError(t, err)
	assert.Equal(t, "Write the upsell page copy for a sales funnel.\nProduct: Course\n", out)
}

func TestBrief_Validate(t *testing.T) {
	err := Brief{Step: "checkout"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBrief)

	var fe *xfault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, xfault.KindValidation, fe.Kind)
	assert.Equal(t, "product is required; step must be one of landing, opt-in, sales, upsell, thank-you", fe.Message)
}

func TestGenerateFunnelCopy(t *testing.T) {
	var got openai.ChatCompletionRequest
	c, err := New(chatFunc(func(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		got = req
		return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "Headline"}, FinishReason: openai.FinishReasonStop},
		}}, nil
	}))
	require.NoError(t, err)

	resp, err := c.GenerateFunnelCopy(context.Background(), Brief{Product: "Course", Step: StepSales, User: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "Headline", resp.Text)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, funnelSystemPrompt, got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "Write the sales page copy")
	assert.Equal(t, "u1", got.User)

	_, err = c.GenerateFunnelCopy(context.Background(), Brief{})
	assert.True(t, xfault.IsKind(err, xfault.KindValidation))
}
