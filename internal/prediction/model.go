package prediction

// GenerateOptions tunes a single model call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Usage is token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelResponse is the raw text a model produced for a prompt.
type ModelResponse struct {
	Text         string
	FinishReason string
	Model        string
	Usage        Usage
}
