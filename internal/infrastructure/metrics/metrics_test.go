package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/event"
)

type stubDocuments struct {
	err error
}

func (s *stubDocuments) Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error) {
	return &entity.QuoteMetadata{}, s.err
}

func (s *stubDocuments) ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error) {
	return &entity.ReceiptValidation{Status: entity.ValidationMatch}, s.err
}

func (s *stubDocuments) RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (string, []byte, error) {
	return "po.pdf", []byte("pdf"), s.err
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(nil)

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/requests/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	for _, path := range []string{"/api/requests/1", "/api/requests/2", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/api/requests/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "p2p_api_requests_total")
}

func TestEventCounter(t *testing.T) {
	m := New(nil)
	h := m.EventCounter()

	require.NoError(t, h(context.Background(), &event.Event{Type: event.TypeRequestCreated}))
	require.NoError(t, h(context.Background(), &event.Event{Type: event.TypeRequestCreated}))
	require.NoError(t, h(context.Background(), &event.Event{Type: event.TypeRequestApproved}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkflowEventsTotal.WithLabelValues("request.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowEventsTotal.WithLabelValues("request.approved")))
}

func TestInstrumentDocuments(t *testing.T) {
	m := New(nil)
	stub := &stubDocuments{}
	docs := InstrumentDocuments(stub, m)
	ctx := context.Background()

	_, err := docs.Extract(ctx, &entity.UploadedFile{})
	require.NoError(t, err)
	_, _, err = docs.RenderPurchaseOrder(ctx, entity.POSnapshot{})
	require.NoError(t, err)

	stub.err = errors.New("upstream down")
	_, err = docs.ValidateReceipt(ctx, &entity.UploadedFile{}, decimal.Zero)
	require.Error(t, err)
	_, err = docs.Extract(ctx, &entity.UploadedFile{})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentCallsTotal.WithLabelValues("extract", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentCallsTotal.WithLabelValues("extract", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentCallsTotal.WithLabelValues("validate_receipt", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentCallsTotal.WithLabelValues("render_purchase_order", "ok")))
}
