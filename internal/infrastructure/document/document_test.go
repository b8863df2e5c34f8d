package document

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

func pngFile(name string) *entity.UploadedFile {
	return &entity.UploadedFile{Name: name, ContentType: "image/png", Content: []byte("\x89PNG\r\n\x1a\nfake")}
}

func TestSimulated_Extract(t *testing.T) {
	sim := NewSimulated(rand.NewSource(42), 0, zap.NewNop())

	meta, err := sim.Extract(context.Background(), pngFile("quote.png"))
	require.NoError(t, err)

	assert.Equal(t, "Tech Corp Solutions", meta.VendorName)
	assert.Regexp(t, `^INV-\d{4}$`, meta.InvoiceNumber)
	assert.Len(t, meta.Items, 2)
	assert.Equal(t, "1700.00", meta.ExtractedTotal.StringFixed(2))
	assert.Equal(t, 0.98, meta.ConfidenceScore)
}

func TestSimulated_SameSourceSameOutcomes(t *testing.T) {
	run := func() []string {
		sim := NewSimulated(rand.NewSource(7), 0, nil)
		var out []string
		for i := 0; i < 20; i++ {
			v, err := sim.ValidateReceipt(context.Background(), pngFile("r.png"), decimal.NewFromInt(10))
			require.NoError(t, err)
			out = append(out, v.Status)
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestSimulated_MatchRate(t *testing.T) {
	sim := NewSimulated(rand.NewSource(1), 0, nil)

	matches := 0
	const n = 3000
	for i := 0; i < n; i++ {
		v, err := sim.ValidateReceipt(context.Background(), pngFile("r.png"), decimal.NewFromInt(10))
		require.NoError(t, err)
		switch v.Status {
		case entity.ValidationMatch:
			matches++
			assert.Empty(t, v.Discrepancies)
		case entity.ValidationMismatch:
			assert.NotEmpty(t, v.Discrepancies)
		default:
			t.Fatalf("unexpected status %q", v.Status)
		}
	}

	assert.InDelta(t, 2.0/3.0, float64(matches)/n, 0.05)
}

func TestSimulated_LatencyHonoursContext(t *testing.T) {
	sim := NewSimulated(rand.NewSource(1), time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Extract(ctx, pngFile("q.png"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPORenderer_Deterministic(t *testing.T) {
	r := NewPORenderer("")
	snap := entity.POSnapshot{
		RequestID:  7,
		Title:      "Laptop",
		Amount:     decimal.RequireFromString("1500.00"),
		VendorName: "Tech Corp Solutions",
		IssuedAt:   time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	name1, pdf1, err := r.RenderPurchaseOrder(context.Background(), snap)
	require.NoError(t, err)
	name2, pdf2, err := r.RenderPurchaseOrder(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, "PO_7_1709285400.pdf", name1)
	assert.Equal(t, name1, name2)
	assert.True(t, bytes.HasPrefix(pdf1, []byte("%PDF")))
	assert.Equal(t, pdf1, pdf2)

	// Both document dates come from the snapshot, never from the clock
	assert.Contains(t, string(pdf1), "/CreationDate (D:20240301093000)")
	assert.Contains(t, string(pdf1), "/ModDate (D:20240301093000)")

	snap.Amount = decimal.RequireFromString("1499.99")
	_, pdf3, err := r.RenderPurchaseOrder(context.Background(), snap)
	require.NoError(t, err)
	assert.NotEqual(t, pdf1, pdf3)
}

func TestPONumber(t *testing.T) {
	assert.Equal(t, "PO-00007", PONumber(7))
	assert.Equal(t, "PO-123456", PONumber(123456))
}

func TestService_Delegates(t *testing.T) {
	sim := NewSimulated(rand.NewSource(3), 0, nil)
	svc := NewService(sim, sim, NewPORenderer("Finance Dept"))

	meta, err := svc.Extract(context.Background(), pngFile("q.png"))
	require.NoError(t, err)
	assert.Equal(t, "Tech Corp Solutions", meta.VendorName)

	name, content, err := svc.RenderPurchaseOrder(context.Background(), entity.POSnapshot{
		RequestID: 1, Title: "Chairs", Amount: decimal.NewFromInt(90), VendorName: "Acme", IssuedAt: time.Unix(100, 0).UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "PO_1_100.pdf", name)
	assert.NotEmpty(t, content)
}

func TestCompareTotals(t *testing.T) {
	tolerance := decimal.RequireFromString("0.50")
	tests := []struct {
		actual string
		want   string
	}{
		{"1500.00", entity.ValidationMatch},
		{"1500.50", entity.ValidationMatch},
		{"1499.50", entity.ValidationMatch},
		{"1500.51", entity.ValidationMismatch},
		{"1200.00", entity.ValidationMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.actual, func(t *testing.T) {
			got := compareTotals(decimal.RequireFromString(tt.actual), decimal.RequireFromString("1500.00"), tolerance)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"nested", `result: {"a": {"b": "}"}} trailing`, `{"a": {"b": "}"}}`},
		{"escaped quote", `{"a": "x\"}"}`, `{"a": "x\"}"}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.content))
		})
	}
}

// chatServer answers every chat completion with content
func chatServer(t *testing.T, content string, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		raw, _ := json.Marshal(body)
		if seen != nil {
			*seen = append(*seen, string(raw))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionExtractor_Extract(t *testing.T) {
	var requests []string
	srv := chatServer(t, `{"vendor_name":"Acme Ltd","invoice_number":"Q-77","items":[{"description":"Desk","quantity":2,"price":150}],"extracted_total":300,"confidence_score":0.9}`, &requests)

	v := NewVisionExtractor(NewOpenAIClient("test-key", srv.URL+"/v1", 5*time.Second), VisionConfig{Model: "gpt-4o"}, nil, zap.NewNop())

	meta, err := v.Extract(context.Background(), pngFile("quote.png"))
	require.NoError(t, err)

	assert.Equal(t, "Acme Ltd", meta.VendorName)
	assert.Equal(t, "Q-77", meta.InvoiceNumber)
	require.Len(t, meta.Items, 1)
	assert.Equal(t, 2, meta.Items[0].Quantity)
	assert.Equal(t, "300.00", meta.ExtractedTotal.StringFixed(2))
	require.Len(t, meta.Items, 1)
	assert.True(t, meta.Items[0].Price.Equal(decimal.NewFromInt(150)))

	require.Len(t, requests, 1)
	assert.Contains(t, requests[0], "data:image/png;base64,")
	assert.Contains(t, requests[0], "quote.png")
}

func TestVisionExtractor_ValidateReceipt(t *testing.T) {
	srv := chatServer(t, "Sure! ```json\n{\"vendor_name\":\"Acme\",\"total_amount\":1450.00,\"currency\":\"USD\"}\n```", nil)
	v := NewVisionExtractor(NewOpenAIClient("k", srv.URL+"/v1", 0), VisionConfig{
		Model:     "gpt-4o",
		Tolerance: decimal.RequireFromString("0.01"),
	}, nil, zap.NewNop())

	got, err := v.ValidateReceipt(context.Background(), pngFile("receipt.png"), decimal.RequireFromString("1500.00"))
	require.NoError(t, err)

	assert.Equal(t, entity.ValidationMismatch, got.Status)
	require.Len(t, got.Discrepancies, 1)
	assert.Contains(t, got.Discrepancies[0], "1450.00")
	assert.Contains(t, got.Discrepancies[0], "50.00")
}

func TestVisionExtractor_Errors(t *testing.T) {
	srv := chatServer(t, "not json at all", nil)
	v := NewVisionExtractor(NewOpenAIClient("k", srv.URL+"/v1", 0), VisionConfig{Model: "gpt-4o"}, nil, zap.NewNop())

	_, err := v.Extract(context.Background(), pngFile("q.png"))
	assert.ErrorContains(t, err, "failed to parse response")

	_, err = v.Extract(context.Background(), &entity.UploadedFile{Name: "q.txt", ContentType: "text/plain", Content: []byte("hello")})
	assert.ErrorContains(t, err, "unsupported file type")
}

func TestLoadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
receipt_extraction:
  temperature: 0.3
  system: "Custom receipt reader"
`), 0o644))

	prompts, err := LoadPrompts(path)
	require.NoError(t, err)

	assert.Equal(t, "Custom receipt reader", prompts.ReceiptExtraction.System)
	assert.Equal(t, float32(0.3), prompts.ReceiptExtraction.Temperature)
	assert.Equal(t, DefaultPrompts().QuoteExtraction.System, prompts.QuoteExtraction.System)

	_, err = LoadPrompts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
