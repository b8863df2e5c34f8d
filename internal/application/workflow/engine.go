package workflow

import (
	"context"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// Engine runs the purchase request workflow. Every mutating operation runs in
// one repository transaction and publishes its events only after commit.
type Engine interface {
	// CreateRequest extracts quote metadata and stores a PENDING request with
	// its two PENDING approval steps
	CreateRequest(ctx context.Context, actor *entity.Actor, draft entity.RequestDraft, quote *entity.UploadedFile) (*entity.PurchaseRequest, error)

	// ProcessApproval records an approver's decision on a step
	ProcessApproval(ctx context.Context, actor *entity.Actor, stepID int64, decision entity.Decision, comment string) (*entity.PurchaseRequest, error)

	// Review decides the step of requestID at the level the actor's role signs off
	Review(ctx context.Context, actor *entity.Actor, requestID int64, decision entity.Decision, comment string) (*entity.PurchaseRequest, error)

	// SubmitReceipt reconciles and attaches a receipt to an approved request
	SubmitReceipt(ctx context.Context, actor *entity.Actor, requestID int64, receipt *entity.UploadedFile) (*entity.PurchaseRequest, error)

	// List returns the requests visible to actor
	List(ctx context.Context, actor *entity.Actor, opts port.ListOptions) ([]*entity.PurchaseRequest, error)

	// Get returns one request if actor may see it
	Get(ctx context.Context, actor *entity.Actor, requestID int64) (*entity.PurchaseRequest, error)

	// OpenDocument returns the blob stored in a document slot of a visible request
	OpenDocument(ctx context.Context, actor *entity.Actor, requestID int64, slot entity.DocumentSlot) (*entity.Document, error)
}

type correlationKey struct{}

// WithCorrelationID attaches the ID that events published for this call carry
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the ID set by WithCorrelationID, or ""
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
