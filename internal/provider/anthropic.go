package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/moolen/quorum/internal/models"
)

// roleInstructions maps an agent role to its analysis focus. The instruction
// is embedded in the system prompt so each role produces an independent
// perspective on the same incident.
var roleInstructions = map[string]string{
	"detection":     "Confirm whether the reported symptoms constitute a real incident and identify the failing signal.",
	"diagnosis":     "Identify the most likely root cause of the incident from the evidence provided.",
	"prediction":    "Assess how the incident will evolve if left unhandled and which systems are at risk next.",
	"resolution":    "Propose the single remediation action most likely to resolve the incident safely.",
	"communication": "Assess operator-facing impact and urgency of the incident.",
}

const systemPromptTemplate = `You are the %s analysis agent in an automated incident response system.
%s

Respond with a single JSON object and nothing else:
{"confidence": <float 0.0-1.0>, "action": "<recommended action token>", "evidence": "<one paragraph of supporting reasoning>"}

The action token must be a short machine-readable identifier such as
"restart-service", "rollback-deploy", "scale-up", "isolate-host" or
"escalate-to-human". Do not wrap the JSON in markdown fences.`

// AnthropicProvider implements Provider using the Anthropic Claude API.
type AnthropicProvider struct {
	client anthropic.Client
	config Config
}

// NewAnthropicProvider creates a provider reading the API key from the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(),
		config: cfg,
	}
}

// NewAnthropicProviderWithKey creates a provider with an explicit API key.
func NewAnthropicProviderWithKey(apiKey string, cfg Config) *AnthropicProvider {
	p := NewAnthropicProvider(cfg)
	p.client = anthropic.NewClient(option.WithAPIKey(apiKey))
	return p
}

// Analyze implements Provider.Analyze.
func (p *AnthropicProvider) Analyze(ctx context.Context, req Request) (*RawFinding, error) {
	userMsg, err := buildIncidentContext(req.Incident, req.Round)
	if err != nil {
		return nil, fmt.Errorf("failed to build incident context: %w", err)
	}

	instruction, ok := roleInstructions[req.Role]
	if !ok {
		instruction = "Analyze the incident from your role's perspective."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: fmt.Sprintf(systemPromptTemplate, req.Role, instruction)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var textParts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(textParts, ""))
	if text == "" {
		return nil, fmt.Errorf("empty response from model %s", p.config.Model)
	}

	return parseRawFinding(text)
}

// Name implements Provider.Name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// buildIncidentContext serializes the incident snapshot for the model.
// Prior-round findings are included so a retry round can confirm recovery.
func buildIncidentContext(inc models.Incident, round int) (string, error) {
	ctx := map[string]interface{}{
		"incident_id": inc.ID,
		"category":    inc.Category,
		"severity":    inc.Severity.String(),
		"description": inc.Description,
		"opened_at":   inc.OpenedAt,
		"round":       round,
	}
	if inc.Evidence != "" {
		ctx["evidence"] = inc.Evidence
	}
	if round > 1 && len(inc.Findings) > 0 {
		ctx["prior_findings"] = inc.Findings
	}

	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseRawFinding extracts the JSON object from the model output. Models
// occasionally wrap JSON in fences despite instructions, so the object is
// located by brace matching before strict decoding.
func parseRawFinding(text string) (*RawFinding, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var raw RawFinding
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	return &raw, nil
}
