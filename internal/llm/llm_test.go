package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

type stubClient struct {
	resp  Response
	err   error
	calls int
}

func (s *stubClient) Complete(context.Context, Request) (Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestFallbackClientUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubClient{resp: Response{Text: "primary"}}
	fallback := &stubClient{resp: Response{Text: "fallback"}}
	c := NewFallbackClient(primary, fallback, logging.Default())

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "primary", resp.Text)
	assert.Equal(t, 0, fallback.calls)
}

func TestFallbackClientFallsBack(t *testing.T) {
	primary := &stubClient{err: errors.New("throttled")}
	fallback := &stubClient{resp: Response{Text: "fallback"}}
	c := NewFallbackClient(primary, fallback, nil)

	resp, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
}

func TestFallbackClientReturnsLastError(t *testing.T) {
	primaryErr := errors.New("primary down")
	c := NewFallbackClient(&stubClient{err: primaryErr}, nil, nil)
	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, primaryErr)

	fallbackErr := errors.New("fallback down")
	c = NewFallbackClient(&stubClient{err: primaryErr}, &stubClient{err: fallbackErr}, nil)
	_, err = c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, fallbackErr)
}

type fakeCompletions struct {
	params openai.ChatCompletionNewParams
	resp   *openai.ChatCompletion
	err    error
}

func (f *fakeCompletions) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.params = body
	return f.resp, f.err
}

func TestOpenAIClientComplete(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Content: "  {\"intent\":\"greeting\"} "},
			FinishReason: "stop",
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
	}}
	c := newOpenAIClientWithAPI(fake, "gpt-4o-mini")

	resp, err := c.Complete(context.Background(), Request{
		System:      []string{"sys"},
		Messages:    []Message{{Role: RoleUser, Content: "Oi"}, {Role: RoleAssistant, Content: " "}},
		MaxTokens:   200,
		Temperature: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"intent\":\"greeting\"}", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, int32(14), resp.Usage.TotalTokens)
	assert.Len(t, fake.params.Messages, 2, "blank turns are dropped")
	assert.Equal(t, openai.ChatModel("gpt-4o-mini"), fake.params.Model)
}

func TestOpenAIClientErrors(t *testing.T) {
	c := newOpenAIClientWithAPI(&fakeCompletions{err: errors.New("boom")}, "")
	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.Error(t, err)

	c = newOpenAIClientWithAPI(&fakeCompletions{resp: &openai.ChatCompletion{}}, "")
	_, err = c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = c.Complete(context.Background(), Request{Messages: []Message{{Role: "tool", Content: "x"}}})
	assert.Error(t, err)

	_, err = NewOpenAIClient("", "")
	assert.Error(t, err)
}

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	return f.out, f.err
}

func TestBedrockClientComplete(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "Olá!"}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(2), TotalTokens: aws.Int32(5)},
	}}
	c := NewBedrockClient(fake, "anthropic.claude-3-haiku")

	resp, err := c.Complete(context.Background(), Request{
		System:      []string{"sys"},
		Messages:    []Message{{Role: RoleSystem, Content: "extra"}, {Role: RoleUser, Content: "Oi"}},
		Temperature: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Olá!", resp.Text)
	assert.Equal(t, int32(5), resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(fake.input.ModelId))
	assert.Len(t, fake.input.System, 2)
	assert.Len(t, fake.input.Messages, 1)
	assert.Nil(t, fake.input.InferenceConfig)
}

func TestBedrockClientRequiresModel(t *testing.T) {
	c := NewBedrockClient(&fakeConverse{}, "")
	_, err := c.Complete(context.Background(), Request{})
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose", "Claro! {\"a\":{\"b\":2}} obrigado", `{"a":{"b":2}}`, false},
		{"none", "sem json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
