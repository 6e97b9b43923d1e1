package gemini

import (
	"context"

	"github.com/google/generative-ai-go/genai"
)

// Completer issues stateless JSON-mode generations for extraction tasks.
type Completer struct {
	model *genai.GenerativeModel
}

func NewCompleter(client *genai.Client, model string) *Completer {
	m := client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0)
	return &Completer{model: m}
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}
