package domain

// ChatMessage is a single message in the prompt window sent to a chat backend.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// RawMessage is the message object inside a raw completion choice.
type RawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RawChoice is one candidate completion in the raw provider payload.
type RawChoice struct {
	Index        int        `json:"index"`
	Message      RawMessage `json:"message"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// TokenUsage reports prompt/completion token counts from the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RawCompletion preserves the provider's chat-completion payload as received.
type RawCompletion struct {
	ID      string      `json:"id,omitempty"`
	Model   string      `json:"model,omitempty"`
	Created int64       `json:"created,omitempty"`
	Choices []RawChoice `json:"choices"`
	Usage   TokenUsage  `json:"usage,omitempty"`
}

// ChatCompletion is one backend response. Message mirrors the first raw
// choice; the two views must stay in sync when content is rewritten, which
// is why mutation only happens through WithContent.
type ChatCompletion struct {
	Raw     RawCompletion `json:"raw"`
	Message ChatMessage   `json:"message"`
}

// Content returns the assistant text, preferring the raw payload.
func (c ChatCompletion) Content() string {
	if len(c.Raw.Choices) > 0 {
		return c.Raw.Choices[0].Message.Content
	}
	return c.Message.Content
}

// WithContent returns a copy of the completion with the assistant text
// replaced in both the first raw choice and the mirrored message. The
// choices slice is copied so the receiver is never aliased.
func (c ChatCompletion) WithContent(content string) ChatCompletion {
	out := c
	if len(c.Raw.Choices) > 0 {
		out.Raw.Choices = make([]RawChoice, len(c.Raw.Choices))
		copy(out.Raw.Choices, c.Raw.Choices)
		out.Raw.Choices[0].Message.Content = content
	}
	out.Message.Content = content
	return out
}
