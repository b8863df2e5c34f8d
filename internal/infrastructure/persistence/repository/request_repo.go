package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/policy"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/sqlite"
)

const requestColumns = `
	r.id, r.title, r.description, r.amount, r.status, r.created_by, u.username,
	r.proforma_file, r.purchase_order_doc, r.receipt_file, r.ai_metadata,
	r.created_at, r.updated_at`

var orderClauses = map[port.ListOrder]string{
	port.OrderCreatedAsc:  "r.created_at ASC, r.id ASC",
	port.OrderCreatedDesc: "r.created_at DESC, r.id DESC",
	port.OrderStatusAsc:   "r.status ASC, r.created_at DESC, r.id DESC",
	port.OrderStatusDesc:  "r.status DESC, r.created_at DESC, r.id DESC",
}

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	steps  *StepRepository
	logger *zap.Logger
}

// NewRequestRepository creates a new purchase request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		steps:  NewStepRepository(db, logger),
		logger: logger,
	}
}

// Create inserts a purchase request
func (r *RequestRepository) Create(ctx context.Context, req *entity.PurchaseRequest) error {
	metadata, err := encodeMetadata(req.AIMetadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO purchase_requests (
			title, description, amount, status, created_by,
			proforma_file, purchase_order_doc, receipt_file, ai_metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		req.Title,
		req.Description,
		req.Amount.StringFixed(2),
		req.Status,
		req.CreatedBy,
		req.ProformaFile,
		req.PurchaseOrderDoc,
		req.ReceiptFile,
		metadata,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create purchase request", zap.Error(err))
		return fmt.Errorf("failed to create purchase request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves a purchase request with its ordered steps
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.PurchaseRequest, error) {
	query := `SELECT` + requestColumns + `
		FROM purchase_requests r
		LEFT JOIN users u ON u.id = r.created_by
		WHERE r.id = ?
	`

	req, err := scanRequest(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get purchase request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get purchase request: %w", err)
	}

	steps, err := r.steps.GetByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Steps = steps

	return req, nil
}

// ListVisible returns the requests matching the actor's visibility predicate.
// The predicate mirrors policy.CanSee so filtering happens in SQL.
func (r *RequestRepository) ListVisible(ctx context.Context, actor *entity.Actor, opts port.ListOptions) ([]*entity.PurchaseRequest, error) {
	if actor == nil {
		return []*entity.PurchaseRequest{}, nil
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = port.DefaultListOrder
	}
	order, ok := orderClauses[orderBy]
	if !ok {
		return nil, fmt.Errorf("unsupported ordering: %s", orderBy)
	}

	var where string
	var args []interface{}

	switch policy.For(actor.Role).Visibility {
	case policy.VisibleOwn:
		where = "r.created_by = ?"
		args = append(args, actor.ID)
	case policy.VisibleLevelOneQueue:
		where = "EXISTS (SELECT 1 FROM approval_steps a WHERE a.request_id = r.id AND a.level = 1)"
	case policy.VisibleLevelTwoQueue:
		where = `EXISTS (SELECT 1 FROM approval_steps a WHERE a.request_id = r.id AND a.level = 1 AND a.status = 'APPROVED')
			AND EXISTS (SELECT 1 FROM approval_steps a WHERE a.request_id = r.id AND a.level = 2)`
	case policy.VisibleApproved:
		where = "r.status = 'APPROVED'"
	default:
		return []*entity.PurchaseRequest{}, nil
	}

	query := `SELECT` + requestColumns + `
		FROM purchase_requests r
		LEFT JOIN users u ON u.id = r.created_by
		WHERE ` + where + `
		ORDER BY ` + order

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list purchase requests", zap.String("role", actor.Role.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list purchase requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*entity.PurchaseRequest, 0)
	byID := make(map[int64]*entity.PurchaseRequest)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase request: %w", err)
		}
		req.Steps = []*entity.ApprovalStep{}
		requests = append(requests, req)
		byID[req.ID] = req
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(requests) == 0 {
		return requests, nil
	}

	// Same predicate as the request query, so the statement size does not
	// grow with the number of visible requests
	steps, err := r.steps.getWhere(ctx,
		"s.request_id IN (SELECT r.id FROM purchase_requests r WHERE "+where+")", args...)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if req, ok := byID[s.RequestID]; ok {
			req.Steps = append(req.Steps, s)
		}
	}

	return requests, nil
}

// ReferencedDocuments returns every non-empty blob path stored on a request
func (r *RequestRepository) ReferencedDocuments(ctx context.Context) (map[string]struct{}, error) {
	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx,
		`SELECT proforma_file, purchase_order_doc, receipt_file FROM purchase_requests`)
	if err != nil {
		return nil, fmt.Errorf("failed to query document paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var proforma, po, receipt string
		if err := rows.Scan(&proforma, &po, &receipt); err != nil {
			return nil, fmt.Errorf("failed to scan document paths: %w", err)
		}
		for _, p := range []string{proforma, po, receipt} {
			if p != "" {
				paths[p] = struct{}{}
			}
		}
	}
	return paths, rows.Err()
}

// Transition moves a request between statuses, guarded by the expected prior status
func (r *RequestRepository) Transition(ctx context.Context, id int64, from, to entity.RequestStatus, patch port.RequestPatch) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{to, patch.UpdatedAt}

	if patch.PurchaseOrderDoc != "" {
		sets = append(sets, "purchase_order_doc = ?")
		args = append(args, patch.PurchaseOrderDoc)
	}
	if patch.ReceiptFile != "" {
		sets = append(sets, "receipt_file = ?")
		args = append(args, patch.ReceiptFile)
	}
	if patch.AIMetadata != nil {
		metadata, err := encodeMetadata(patch.AIMetadata)
		if err != nil {
			return err
		}
		sets = append(sets, "ai_metadata = ?")
		args = append(args, metadata)
	}

	query := "UPDATE purchase_requests SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	args = append(args, id, from)

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to transition purchase request",
			zap.Int64("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return fmt.Errorf("failed to transition purchase request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("purchase request %d not %s: %w", id, from, port.ErrStaleState)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*entity.PurchaseRequest, error) {
	var req entity.PurchaseRequest
	var createdByName sql.NullString
	var metadata string

	err := row.Scan(
		&req.ID,
		&req.Title,
		&req.Description,
		&req.Amount,
		&req.Status,
		&req.CreatedBy,
		&createdByName,
		&req.ProformaFile,
		&req.PurchaseOrderDoc,
		&req.ReceiptFile,
		&metadata,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.CreatedByName = createdByName.String
	req.AIMetadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}

	return &req, nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode ai metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode ai metadata: %w", err)
	}
	return m, nil
}

var _ port.RequestRepository = (*RequestRepository)(nil)
