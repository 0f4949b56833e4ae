// Package classify infers sector and business type for a lead from its
// website using a hosted language model.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/leadfoundry/leadgen-cli/internal/model"
	"github.com/leadfoundry/leadgen-cli/internal/webpage"
	"github.com/leadfoundry/leadgen-cli/pkg/anthropic"
)

// maxPageChars caps the website text sent to the model.
const maxPageChars = 5000

const systemPrompt = `Você analisa sites de empresas brasileiras. Responda somente com um objeto JSON válido no formato {"sector": "<setor de atuação>", "business_type": "<B2B|B2C|Both>", "description": "<uma frase>", "employees_estimate": "<faixa, ex: 1-10>"}. Se não souber um campo, use "".`

const userPromptFmt = `Empresa: %s

Conteúdo do site (texto visível):
%s`

// Classifier drives LLM sector classification.
type Classifier struct {
	client    anthropic.Client
	modelID   string
	maxTokens int64
	session   *webpage.Session
}

// NewClassifier creates a Classifier. A nil client disables classification,
// leads then pass through unclassified.
func NewClassifier(client anthropic.Client, modelID string, maxTokens int64, session *webpage.Session) *Classifier {
	return &Classifier{
		client:    client,
		modelID:   modelID,
		maxTokens: maxTokens,
		session:   session,
	}
}

// Enabled reports whether a model client is configured.
func (c *Classifier) Enabled() bool {
	return c.client != nil
}

// Classify fetches the lead's website and asks the model for the four
// classification fields. A lead with no website, or an unusable model
// answer, yields a nil classification.
func (c *Classifier) Classify(ctx context.Context, lead *model.Lead) (*model.Classification, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if lead.Website == "" {
		return nil, nil
	}

	page, err := c.session.Fetch(ctx, lead.Website)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: fetch site for %q", lead.Name)
	}

	text := page.VisibleText()
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.modelID,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(userPromptFmt, lead.Name, text)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "classify: model call for %q", lead.Name)
	}

	cls, err := parseAnswer(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "classify: parse answer for %q", lead.Name)
	}
	return cls, nil
}

// parseAnswer decodes the model's JSON answer, tolerating markdown fences.
func parseAnswer(text string) (*model.Classification, error) {
	text = cleanJSON(text)

	var cls model.Classification
	if err := json.Unmarshal([]byte(text), &cls); err != nil {
		return nil, eris.Wrap(err, "unmarshal")
	}

	switch cls.BusinessType {
	case "B2B", "B2C", "Both", "":
	default:
		cls.BusinessType = ""
	}
	return &cls, nil
}

// cleanJSON strips code fences and surrounding prose so json.Unmarshal gets
// a bare object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
