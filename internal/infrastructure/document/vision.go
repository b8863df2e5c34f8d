package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// VisionConfig configures the vision extractor
type VisionConfig struct {
	Model string

	// MaxPages limits how many PDF pages are sent to the model
	MaxPages int

	// Tolerance is the largest receipt/PO difference still reported as MATCH
	Tolerance decimal.Decimal
}

// VisionExtractor reads quotes and receipts with an OpenAI vision model.
// PDFs are rasterised page by page before upload.
type VisionExtractor struct {
	client  *openai.Client
	config  VisionConfig
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewVisionExtractor creates a vision extractor. A nil prompts uses DefaultPrompts.
func NewVisionExtractor(client *openai.Client, config VisionConfig, prompts *PromptConfig, logger *zap.Logger) *VisionExtractor {
	if config.MaxPages <= 0 {
		config.MaxPages = 2
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &VisionExtractor{
		client:  client,
		config:  config,
		prompts: prompts,
		logger:  logger,
	}
}

// NewOpenAIClient creates an OpenAI client, optionally against a custom base
// URL. A zero timeout leaves the HTTP client unbounded.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(cfg)
}

type receiptReading struct {
	VendorName  string          `json:"vendor_name"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// Extract implements port.QuoteExtractor
func (v *VisionExtractor) Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error) {
	v.logger.Info("Extracting quote data with Vision API", zap.String("file", file.Name))

	var metadata entity.QuoteMetadata
	if err := v.complete(ctx, v.prompts.QuoteExtraction, file, nil, &metadata); err != nil {
		return nil, err
	}

	if metadata.VendorName == "" && metadata.InvoiceNumber == "" {
		v.logger.Warn("Could not extract vendor or invoice number", zap.String("file", file.Name))
	}
	if metadata.Items == nil {
		metadata.Items = []entity.LineItem{}
	}

	v.logger.Info("Quote data extracted",
		zap.String("vendor", metadata.VendorName),
		zap.String("total", metadata.ExtractedTotal.StringFixed(2)),
		zap.Float64("confidence", metadata.ConfidenceScore))

	return &metadata, nil
}

// ValidateReceipt implements port.ReceiptValidator. The receipt total is read
// by the model and compared here, not by the model.
func (v *VisionExtractor) ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error) {
	v.logger.Info("Validating receipt with Vision API",
		zap.String("file", file.Name),
		zap.String("expected", expected.StringFixed(2)))

	var reading receiptReading
	vars := map[string]interface{}{"Expected": expected.StringFixed(2)}
	if err := v.complete(ctx, v.prompts.ReceiptExtraction, file, vars, &reading); err != nil {
		return nil, err
	}

	return compareTotals(reading.TotalAmount.Round(2), expected, v.config.Tolerance), nil
}

func compareTotals(actual, expected, tolerance decimal.Decimal) *entity.ReceiptValidation {
	diff := actual.Sub(expected).Abs()
	if diff.LessThanOrEqual(tolerance) {
		return &entity.ReceiptValidation{
			Status:        entity.ValidationMatch,
			Message:       "Receipt matches Purchase Order.",
			Discrepancies: []string{},
		}
	}
	return &entity.ReceiptValidation{
		Status:  entity.ValidationMismatch,
		Message: "Discrepancy detected in total amount.",
		Discrepancies: []string{
			fmt.Sprintf("Receipt total %s differs from PO total %s by %s.",
				actual.StringFixed(2), expected.StringFixed(2), diff.StringFixed(2)),
		},
	}
}

// complete sends file to the model with prompt and decodes the JSON answer into out
func (v *VisionExtractor) complete(ctx context.Context, prompt Prompt, file *entity.UploadedFile, vars map[string]interface{}, out interface{}) error {
	images, err := v.toImages(file)
	if err != nil {
		return err
	}

	data := map[string]interface{}{"FileName": file.Name}
	for k, val := range vars {
		data[k] = val
	}
	text, err := renderTemplate(prompt.UserTemplate, data)
	if err != nil {
		return err
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
	for i, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", img.mimeType, base64.StdEncoding.EncodeToString(img.data)),
				Detail: openai.ImageURLDetailHigh,
			},
		})
		v.logger.Debug("Added image to request", zap.Int("page", i+1), zap.Int("size_bytes", len(img.data)))
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.config.Model,
		MaxTokens:   prompt.MaxTokens,
		Temperature: prompt.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		v.logger.Error("Vision API call failed", zap.Error(err))
		return fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("no response from vision API")
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		// Fallback: the model wrapped the object in prose or a code fence
		if obj := extractJSON(content); obj != "" && json.Unmarshal([]byte(obj), out) == nil {
			return nil
		}
		v.logger.Error("Failed to parse vision API response", zap.Error(err), zap.String("content", content))
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

type pageImage struct {
	mimeType string
	data     []byte
}

// toImages turns an upload into the images sent to the model
func (v *VisionExtractor) toImages(file *entity.UploadedFile) ([]pageImage, error) {
	mimeType := file.ContentType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(file.Content)
	}
	if strings.EqualFold(path.Ext(file.Name), ".pdf") {
		mimeType = "application/pdf"
	}

	switch {
	case mimeType == "application/pdf":
		return v.rasterise(file.Content)
	case strings.HasPrefix(mimeType, "image/"):
		return []pageImage{{mimeType: mimeType, data: file.Content}}, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", mimeType)
	}
}

// rasterise converts up to MaxPages PDF pages to JPEG using mupdf
func (v *VisionExtractor) rasterise(pdf []byte) ([]pageImage, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > v.config.MaxPages {
		pages = v.config.MaxPages
	}

	images := make([]pageImage, 0, pages)
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			v.logger.Warn("Failed to extract page as image", zap.Int("page", n), zap.Error(err))
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			v.logger.Warn("Failed to encode page to JPEG", zap.Int("page", n), zap.Error(err))
			continue
		}
		images = append(images, pageImage{mimeType: "image/jpeg", data: buf.Bytes()})
	}

	if len(images) == 0 {
		return nil, errors.New("no images extracted from PDF")
	}
	return images, nil
}

// extractJSON returns the first balanced JSON object in content, or ""
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
