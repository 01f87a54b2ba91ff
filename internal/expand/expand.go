// Package expand implements query expansion: given a natural-language
// query, an external generator proposes a handful of additional terms which
// get disjunctively merged into the lexical leg of a search.
package expand

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

// Expander proposes 0-10 short additional search terms for query. A missing
// SDK/API key or a provider error yields an empty slice, never an error.
type Expander interface {
	Expand(query string) []string
}

// NewExpander builds an Expander by name. Unrecognized names and "stub",
// "none", "local" all resolve to a no-op expander.
func NewExpander(name, model, apiKey string) Expander {
	switch name {
	case "anthropic":
		return &anthropicExpander{httpClient: &http.Client{Timeout: 15 * time.Second}, model: model, apiKey: apiKey}
	case "openai":
		return &openaiExpander{httpClient: &http.Client{Timeout: 15 * time.Second}, model: model, apiKey: apiKey}
	default:
		return noopExpander{}
	}
}

type noopExpander struct{}

func (noopExpander) Expand(string) []string { return nil }

// bulletRe strips leading bullet/numbering markers from a generated line.
var bulletRe = regexp.MustCompile(`^[\s•\-*]*(\d+[.)])?[\s•\-*]*`)

const maxExpansionTerms = 10
const maxExpansionTermLen = 50

// parseExpansionTerms parses a raw newline-separated model response: strip
// leading bullets/numbering and whitespace, drop empty lines, reject terms
// over 50 chars, cap at 10.
func parseExpansionTerms(raw string) []string {
	lines := strings.Split(raw, "\n")
	terms := make([]string, 0, maxExpansionTerms)
	for _, line := range lines {
		term := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
		if term == "" {
			continue
		}
		if len(term) > maxExpansionTermLen {
			continue
		}
		terms = append(terms, term)
		if len(terms) >= maxExpansionTerms {
			break
		}
	}
	return terms
}

const expansionPromptTemplate = "Suggest up to 10 short additional search keywords related to this query, one per line, no explanation:\n\n%s"

// anthropicExpander calls the Anthropic Messages API directly over HTTP,
// matching the embedding providers' convention of a hand-rolled client
// rather than a generated SDK.
type anthropicExpander struct {
	httpClient *http.Client
	model      string
	apiKey     string
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (e *anthropicExpander) Expand(query string) []string {
	apiKey := e.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	model := e.model
	if model == "" {
		model = "claude-haiku-4-5"
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: 256,
		Messages:  []anthropicMessage{{Role: "user", Content: fmt.Sprintf(expansionPromptTemplate, query)}},
	})
	if err != nil {
		return nil
	}

	req, err := http.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var out anthropicResponse
	if err := json.Unmarshal(data, &out); err != nil || len(out.Content) == 0 {
		return nil
	}
	return parseExpansionTerms(out.Content[0].Text)
}

// openaiExpander calls the Chat Completions API directly over HTTP.
type openaiExpander struct {
	httpClient *http.Client
	model      string
	apiKey     string
}

type openaiChatRequest struct {
	Model    string              `json:"model"`
	Messages []openaiChatMessage `json:"messages"`
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
	} `json:"choices"`
}

func (e *openaiExpander) Expand(query string) []string {
	apiKey := e.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	model := e.model
	if model == "" {
		model = "gpt-4o-mini"
	}

	body, err := json.Marshal(openaiChatRequest{
		Model:    model,
		Messages: []openaiChatMessage{{Role: "user", Content: fmt.Sprintf(expansionPromptTemplate, query)}},
	})
	if err != nil {
		return nil
	}

	req, err := http.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var out openaiChatResponse
	if err := json.Unmarshal(data, &out); err != nil || len(out.Choices) == 0 {
		return nil
	}
	return parseExpansionTerms(out.Choices[0].Message.Content)
}

// ExpandQuery builds "original OR term1 OR term2 ..." for the lexical leg.
// With no terms, returns original unchanged.
func ExpandQuery(e Expander, original string) string {
	if e == nil {
		return original
	}
	terms := e.Expand(original)
	if len(terms) == 0 {
		return original
	}
	parts := append([]string{original}, terms...)
	return strings.Join(parts, " OR ")
}
