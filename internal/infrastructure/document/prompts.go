package document

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt is one system/user prompt pair with its model parameters
type Prompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts used by the vision extractor
type PromptConfig struct {
	QuoteExtraction   Prompt `yaml:"quote_extraction"`
	ReceiptExtraction Prompt `yaml:"receipt_extraction"`
}

// DefaultPrompts returns the built-in prompts
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		QuoteExtraction: Prompt{
			Temperature: 0.1,
			MaxTokens:   2048,
			System:      "You read vendor quotes and proforma invoices and extract their data with perfect accuracy. Always respond with valid JSON.",
			UserTemplate: `Extract the data of this vendor quote ({{.FileName}}).

Return a JSON object with this exact structure:
{
  "vendor_name": "string",
  "invoice_number": "string",
  "items": [{"description": "string", "quantity": number, "price": number}],
  "extracted_total": number,
  "confidence_score": number between 0 and 1
}

Extract exactly what you see. Use numbers without currency symbols. Use "" or 0 for fields that are not visible.`,
		},
		ReceiptExtraction: Prompt{
			Temperature: 0.1,
			MaxTokens:   1024,
			System:      "You read purchase receipts and extract their totals with perfect accuracy. Always respond with valid JSON.",
			UserTemplate: `Read this receipt ({{.FileName}}). The purchase order it settles totals {{.Expected}}.

Return a JSON object with this exact structure:
{
  "vendor_name": "string",
  "total_amount": number,
  "currency": "string"
}

Report the total printed on the receipt, not the purchase order total.`,
		},
	}
}

// LoadPrompts loads prompt configuration from a YAML file. Prompts missing
// from the file keep their defaults.
func LoadPrompts(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
