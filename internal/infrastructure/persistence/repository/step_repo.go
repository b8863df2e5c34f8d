package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/sqlite"
)

const stepColumns = `
	s.id, s.request_id, s.level, s.status, s.approver_id, u.username,
	s.comments, s.reviewed_at`

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepRepository creates a new approval step repository
func NewStepRepository(db *sql.DB, logger *zap.Logger) *StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an approval step
func (r *StepRepository) Create(ctx context.Context, step *entity.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (request_id, level, status, approver_id, comments, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query,
		step.RequestID,
		step.Level,
		step.Status,
		nullableID(step.ApproverID),
		step.Comments,
		nullableTime(step.ReviewedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create approval step",
			zap.Int64("request_id", step.RequestID),
			zap.Int("level", step.Level),
			zap.Error(err))
		return fmt.Errorf("failed to create approval step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	step.ID = id
	return nil
}

// GetByID retrieves an approval step by ID
func (r *StepRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps s
		LEFT JOIN users u ON u.id = s.approver_id
		WHERE s.id = ?
	`

	step, err := scanStep(sqlite.Executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval step", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get approval step: %w", err)
	}

	return step, nil
}

// GetByRequestID retrieves the steps of a request ordered by level
func (r *StepRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.ApprovalStep, error) {
	return r.getWhere(ctx, "s.request_id = ?", requestID)
}

// getWhere loads the steps matching cond, ordered by request and level.
// cond must not bind one variable per request: SQLite caps bound variables
// per statement, so large selections go through a subquery.
func (r *StepRepository) getWhere(ctx context.Context, cond string, args ...interface{}) ([]*entity.ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps s
		LEFT JOIN users u ON u.id = s.approver_id
		WHERE ` + cond + `
		ORDER BY s.request_id, s.level
	`

	rows, err := sqlite.Executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to get approval steps", zap.Error(err))
		return nil, fmt.Errorf("failed to get approval steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*entity.ApprovalStep, 0)
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval step: %w", err)
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// Decide records a decision on a step that is still PENDING
func (r *StepRepository) Decide(ctx context.Context, id int64, status entity.StepStatus, approverID int64, comments string, at time.Time) error {
	query := `
		UPDATE approval_steps
		SET status = ?, approver_id = ?, comments = ?, reviewed_at = ?
		WHERE id = ? AND status = 'PENDING'
	`

	result, err := sqlite.Executor(ctx, r.db).ExecContext(ctx, query, status, approverID, comments, at, id)
	if err != nil {
		r.logger.Error("Failed to decide approval step",
			zap.Int64("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to decide approval step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("approval step %d already decided: %w", id, port.ErrStaleState)
	}

	return nil
}

func scanStep(row rowScanner) (*entity.ApprovalStep, error) {
	var step entity.ApprovalStep
	var approverID sql.NullInt64
	var approverName sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&step.ID,
		&step.RequestID,
		&step.Level,
		&step.Status,
		&approverID,
		&approverName,
		&step.Comments,
		&reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	if approverID.Valid {
		id := approverID.Int64
		step.ApproverID = &id
	}
	step.ApproverName = approverName.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		step.ReviewedAt = &t
	}

	return &step, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

var _ port.StepRepository = (*StepRepository)(nil)
