package contracts

import (
	"encoding/json"
	"strings"

	dErrors "dealguard/pkg/domain-errors"
)

// maxPromptRunes caps how much contract text goes into one completion call.
// Longer documents are truncated from the end; the opening sections carry
// the parties, term, and payment clauses that drive the score.
const maxPromptRunes = 15000

const analysisSystemPrompt = `You are a legal contract analyst. Assess the contract for business risk.
Respond with a single JSON object and nothing else, using this shape:
{
  "risk_score": <integer 0-100>,
  "contract_type": "<short label, e.g. service_agreement, nda, lease>",
  "summary": "<2-4 sentence plain-language summary>",
  "recommendations": ["<concrete action>", ...],
  "findings": [
    {
      "category": "<liability|termination|payment|confidentiality|ip|compliance|other>",
      "severity": "<low|medium|high|critical>",
      "title": "<short title>",
      "description": "<what the clause says and why it matters>",
      "clause": "<verbatim excerpt, optional>"
    }
  ]
}`

const reparseSystemPrompt = `Your previous reply was not valid JSON. Respond again with ONLY the JSON object described before. No prose, no markdown fences.`

// analysisResult is the model's JSON contract.
type analysisResult struct {
	RiskScore       int       `json:"risk_score"`
	ContractType    string    `json:"contract_type"`
	Summary         string    `json:"summary"`
	Recommendations []string  `json:"recommendations"`
	Findings        []Finding `json:"findings"`
}

// truncateText caps text at maxPromptRunes runes.
func truncateText(text string) string {
	runes := []rune(text)
	if len(runes) <= maxPromptRunes {
		return text
	}
	return string(runes[:maxPromptRunes])
}

// parseAnalysis decodes the model's reply, tolerating markdown fences the
// model sometimes wraps JSON in despite instructions.
func parseAnalysis(content string) (*analysisResult, error) {
	cleaned := stripFences(content)

	var result analysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "ai analysis is not valid json")
	}
	if result.Summary == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "ai analysis is missing a summary")
	}
	return &result, nil
}

func stripFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
