package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// ErrStaleState is returned by conditional updates when the row is no longer
// in the expected state, i.e. another transaction changed it first
var ErrStaleState = errors.New("row is no longer in the expected state")

// ListOrder is a whitelisted ordering for request listings
type ListOrder string

const (
	OrderCreatedAsc  ListOrder = "created_at"
	OrderCreatedDesc ListOrder = "-created_at"
	OrderStatusAsc   ListOrder = "status"
	OrderStatusDesc  ListOrder = "-status"
)

// DefaultListOrder is used when the caller gives none
const DefaultListOrder = OrderCreatedDesc

// IsValid reports whether o is one of the supported orderings
func (o ListOrder) IsValid() bool {
	switch o {
	case OrderCreatedAsc, OrderCreatedDesc, OrderStatusAsc, OrderStatusDesc:
		return true
	default:
		return false
	}
}

// ListOptions controls request listings
type ListOptions struct {
	OrderBy ListOrder
}

// RequestPatch holds the columns written together with a status transition.
// Empty fields are left unchanged.
type RequestPatch struct {
	PurchaseOrderDoc string
	ReceiptFile      string
	AIMetadata       map[string]interface{}
	UpdatedAt        time.Time
}

// RequestRepository defines persistence operations for PurchaseRequest
type RequestRepository interface {
	// Create inserts the request row and sets its ID. Steps are stored separately.
	Create(ctx context.Context, req *entity.PurchaseRequest) error

	// GetByID returns the request with its steps ordered by level, or nil when absent
	GetByID(ctx context.Context, id int64) (*entity.PurchaseRequest, error)

	// ListVisible returns the requests matching actor's visibility predicate,
	// each with its ordered steps
	ListVisible(ctx context.Context, actor *entity.Actor, opts ListOptions) ([]*entity.PurchaseRequest, error)

	// Transition moves the request from one status to another and applies patch
	// in the same statement. Returns ErrStaleState when the request is not in from.
	Transition(ctx context.Context, id int64, from, to entity.RequestStatus, patch RequestPatch) error
}

// StepRepository defines persistence operations for ApprovalStep
type StepRepository interface {
	Create(ctx context.Context, step *entity.ApprovalStep) error

	// GetByID returns the step, or nil when absent
	GetByID(ctx context.Context, id int64) (*entity.ApprovalStep, error)

	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalStep, error)

	// Decide records a decision on a PENDING step. Returns ErrStaleState when the
	// step was already decided.
	Decide(ctx context.Context, id int64, status entity.StepStatus, approverID int64, comments string, at time.Time) error
}

// UserRepository defines persistence operations for User
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	Delete(ctx context.Context, id int64) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
