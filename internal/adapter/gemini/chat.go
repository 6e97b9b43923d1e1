package gemini

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
)

// ChatSession is one conversation shared by every caller. History is kept so
// follow-up questions resolve, and trimmed to the most recent turns.
type ChatSession struct {
	mu         sync.Mutex
	session    *genai.ChatSession
	model      string
	maxHistory int
}

func NewChatSession(client *genai.Client, model, system string, maxTurns int) *ChatSession {
	m := client.GenerativeModel(model)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	m.SetTemperature(0.2)

	return &ChatSession{
		session:    m.StartChat(),
		model:      model,
		maxHistory: maxTurns * 2,
	}
}

// Send appends msg to the conversation and returns the model's reply.
// Calls are serialized; the session's history is not safe for concurrent use.
func (c *ChatSession) Send(ctx context.Context, msg string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.session.History)
	slog.DebugContext(ctx, "sending chat message", "model", c.model, "history", n)
	resp, err := c.session.SendMessage(ctx, genai.Text(msg))
	if err != nil {
		// Drop the unanswered user turn so turns keep alternating.
		c.session.History = c.session.History[:n]
		return "", err
	}
	c.trim()
	return responseText(resp)
}

func (c *ChatSession) HistoryLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.session.History)
}

// Reset drops the conversation history.
func (c *ChatSession) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.History = nil
}

func (c *ChatSession) trim() {
	if c.maxHistory <= 0 || len(c.session.History) <= c.maxHistory {
		return
	}
	c.session.History = c.session.History[len(c.session.History)-c.maxHistory:]
}
