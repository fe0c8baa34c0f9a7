package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/timetick/internal/models"
)

// Client wraps the Anthropic API for work summaries.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildSummaryPrompt constructs the system and user prompts for a work summary.
// Open sessions are skipped.
func buildSummaryPrompt(userName string, sessions []*models.Session) (system string, user string) {
	system = `You write short work summaries from time-tracking logs. Each log line is one work session with its date, duration and task description.

Rules:
- Write plain text, no markdown headings or tables
- Start with one sentence giving the total time worked and the date range
- Then group related tasks and list them as short bullet points with the time spent on each group
- Sessions without a task description count as "unspecified work"
- Do not invent tasks that are not in the log
- Keep the summary under 200 words`

	var sb strings.Builder
	if userName != "" {
		sb.WriteString("Employee: ")
		sb.WriteString(userName)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Sessions:\n")
	for _, s := range sessions {
		if !s.Closed() {
			continue
		}
		task := s.Task()
		if task == "" {
			task = "(no task)"
		}
		fmt.Fprintf(&sb, "- %s, %s, %s\n",
			s.StartTime().Local().Format("2006-01-02 15:04"),
			(time.Duration(s.DurationSeconds()) * time.Second).String(),
			task)
	}
	fmt.Fprintf(&sb, "\nTotal: %s\n", (time.Duration(models.TotalDurationSeconds(sessions)) * time.Second).String())
	user = sb.String()
	return
}

// Summarize sends the sessions to the LLM and returns a plain-text summary.
func (c *Client) Summarize(ctx context.Context, userName string, sessions []*models.Session) (string, error) {
	systemPrompt, userPrompt := buildSummaryPrompt(userName, sessions)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return text, nil
}
