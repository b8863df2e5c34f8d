package workflow

import (
	"context"
	"errors"
	"fmt"
	"path"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/dispatcher"
	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/errs"
	"github.com/garyjia/p2p-procurement/internal/domain/event"
	"github.com/garyjia/p2p-procurement/internal/domain/policy"
	domainwf "github.com/garyjia/p2p-procurement/internal/domain/workflow"
	"github.com/garyjia/p2p-procurement/pkg/utils"
)

const maxTitleLength = 255

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requests   port.RequestRepository
	steps      port.StepRepository
	txManager  port.TransactionManager
	documents  port.DocumentService
	storage    port.FileStorage
	clock      port.Clock
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger
	newBlobID  func() string
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher events are published to after commit
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the wall clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requests port.RequestRepository,
	steps port.StepRepository,
	txManager port.TransactionManager,
	documents port.DocumentService,
	storage port.FileStorage,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requests:  requests,
		steps:     steps,
		txManager: txManager,
		documents: documents,
		storage:   storage,
		clock:     port.SystemClock{},
		logger:    zap.NewNop(),
		newBlobID: func() string { return uuid.NewString()[:8] },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateRequest implements Engine
func (e *engineImpl) CreateRequest(ctx context.Context, actor *entity.Actor, draft entity.RequestDraft, quote *entity.UploadedFile) (*entity.PurchaseRequest, error) {
	if err := policy.AuthorizeCreate(actor); err != nil {
		return nil, err
	}
	draft, err := validateDraft(draft)
	if err != nil {
		return nil, err
	}
	if quote.Empty() {
		return nil, errs.Validation(errs.CodeMissingFile, "proforma file is required")
	}

	var created *entity.PurchaseRequest
	err = e.execute(ctx, "create_request", func(ctx context.Context, s *session) error {
		metadata, err := e.documents.Extract(ctx, quote)
		if err == nil && metadata == nil {
			err = errors.New("extractor returned no metadata")
		}
		if err != nil {
			return errs.Wrap(err, errs.KindCollaborator, errs.CodeExtraction, "quote extraction failed")
		}

		proforma := entity.SlotProforma.Path(e.newBlobID(), quote.Name)
		if err := s.store(ctx, proforma, quote.Content); err != nil {
			return err
		}

		now := e.clock.Now()
		req := &entity.PurchaseRequest{
			Title:         draft.Title,
			Description:   draft.Description,
			Amount:        draft.Amount,
			Status:        entity.RequestPending,
			CreatedBy:     actor.ID,
			CreatedByName: actor.Username,
			ProformaFile:  proforma,
			AIMetadata:    metadata.ToMap(),
			Steps:         make([]*entity.ApprovalStep, 0, len(entity.ApprovalLevels)),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.requests.Create(ctx, req); err != nil {
			return err
		}

		for _, level := range entity.ApprovalLevels {
			step := &entity.ApprovalStep{
				RequestID: req.ID,
				Level:     level,
				Status:    entity.StepPending,
			}
			if err := e.steps.Create(ctx, step); err != nil {
				return err
			}
			req.Steps = append(req.Steps, step)
		}

		s.emit(ctx, event.TypeRequestCreated, req, actor, map[string]interface{}{
			event.KeyTitle:  req.Title,
			event.KeyAmount: req.Amount.StringFixed(2),
			event.KeyVendor: req.VendorName(),
		})
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Purchase request created",
		zap.Int64("request_id", created.ID),
		zap.Int64("created_by", actor.ID),
		zap.String("amount", created.Amount.StringFixed(2)))

	return created, nil
}

// ProcessApproval implements Engine
func (e *engineImpl) ProcessApproval(ctx context.Context, actor *entity.Actor, stepID int64, decision entity.Decision, comment string) (*entity.PurchaseRequest, error) {
	if !decision.IsValid() {
		return nil, errs.Validation(errs.CodeInvalidAction, "action must be approve or reject")
	}

	var result *entity.PurchaseRequest
	err := e.execute(ctx, "process_approval", func(ctx context.Context, s *session) error {
		found, err := e.steps.GetByID(ctx, stepID)
		if err != nil {
			return err
		}
		if found == nil {
			return errs.NotFound("approval step", stepID)
		}

		req, err := e.loadRequest(ctx, found.RequestID)
		if err != nil {
			return err
		}
		step := req.StepByID(stepID)
		if step == nil {
			return errs.NotFound("approval step", stepID)
		}

		if err := e.decide(ctx, s, actor, req, step, decision, comment); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Review implements Engine
func (e *engineImpl) Review(ctx context.Context, actor *entity.Actor, requestID int64, decision entity.Decision, comment string) (*entity.PurchaseRequest, error) {
	if !decision.IsValid() {
		return nil, errs.Validation(errs.CodeInvalidAction, "action must be approve or reject")
	}
	if actor == nil {
		return nil, errs.Authorization(errs.CodeNotAuthorized, "approval requires an authenticated approver")
	}
	level, ok := policy.RequiredLevel(actor.Role)
	if !ok {
		return nil, errs.Authorization(errs.CodeNotAuthorized, "only approvers can review requests")
	}

	var result *entity.PurchaseRequest
	err := e.execute(ctx, "review", func(ctx context.Context, s *session) error {
		req, err := e.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		// Invisible requests answer like Get, without revealing their state
		if !policy.CanSee(actor, req) {
			return errs.NotFound("purchase request", requestID)
		}
		step := req.StepAt(level)
		if step == nil {
			return errs.Authorization(errs.CodeWrongLevel, "not at your level")
		}

		if err := e.decide(ctx, s, actor, req, step, decision, comment); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// decide applies decision to step inside the caller's transaction and keeps
// req in sync with what was written
func (e *engineImpl) decide(ctx context.Context, s *session, actor *entity.Actor, req *entity.PurchaseRequest, step *entity.ApprovalStep, decision entity.Decision, comment string) error {
	if err := policy.AuthorizeDecision(actor, req, step); err != nil {
		return err
	}

	stepMachine := BuildStepStateMachine(req, step)
	if err := stepMachine.Fire(ctx, stepTrigger(decision)); err != nil {
		return transitionError(err, errs.CodeAlreadyDecided)
	}

	now := e.clock.Now()
	stepStatus := entity.StepStatus(stepMachine.State())
	if err := e.steps.Decide(ctx, step.ID, stepStatus, actor.ID, comment, now); err != nil {
		if errors.Is(err, port.ErrStaleState) {
			return errs.Wrap(err, errs.KindPrecondition, errs.CodeAlreadyDecided,
				fmt.Sprintf("level %d step was already decided", step.Level))
		}
		return err
	}

	approverID := actor.ID
	step.Status = stepStatus
	step.ApproverID = &approverID
	step.ApproverName = actor.Username
	step.Comments = comment
	step.ReviewedAt = &now

	s.emit(ctx, event.TypeStepDecided, req, actor, map[string]interface{}{
		event.KeyLevel:    step.Level,
		event.KeyDecision: string(decision),
		event.KeyComment:  comment,
		event.KeyActor:    actor.Username,
	})

	trigger, changesRequest := requestTrigger(step, decision)
	if !changesRequest {
		e.logger.Info("Approval step decided",
			zap.Int64("request_id", req.ID),
			zap.Int("level", step.Level),
			zap.String("decision", string(decision)))
		return nil
	}

	requestMachine := BuildRequestStateMachine(domainwf.State(req.Status))
	if err := requestMachine.Fire(ctx, trigger); err != nil {
		return transitionError(err, errs.CodeRequestClosed)
	}

	patch := port.RequestPatch{UpdatedAt: now}
	if trigger == domainwf.TriggerFinalApprove {
		filename, content, err := e.documents.RenderPurchaseOrder(ctx, entity.POSnapshot{
			RequestID:  req.ID,
			Title:      req.Title,
			Amount:     req.Amount,
			VendorName: req.VendorName(),
			IssuedAt:   now,
		})
		if err == nil && len(content) == 0 {
			err = errors.New("renderer returned an empty document")
		}
		if err != nil {
			return errs.Wrap(err, errs.KindCollaborator, errs.CodeRendering, "purchase order rendering failed")
		}

		patch.PurchaseOrderDoc = entity.SlotPurchaseOrder.Path("", filename)
		if err := s.store(ctx, patch.PurchaseOrderDoc, content); err != nil {
			return err
		}
	}

	to := entity.RequestStatus(requestMachine.State())
	if err := e.requests.Transition(ctx, req.ID, req.Status, to, patch); err != nil {
		if errors.Is(err, port.ErrStaleState) {
			return errs.Wrap(err, errs.KindPrecondition, errs.CodeRequestClosed,
				fmt.Sprintf("request %d changed while deciding", req.ID))
		}
		return err
	}

	req.Status = to
	req.UpdatedAt = now
	if patch.PurchaseOrderDoc != "" {
		req.PurchaseOrderDoc = patch.PurchaseOrderDoc
	}

	payload := map[string]interface{}{
		event.KeyTitle:   req.Title,
		event.KeyAmount:  req.Amount.StringFixed(2),
		event.KeyLevel:   step.Level,
		event.KeyComment: comment,
		event.KeyActor:   actor.Username,
	}
	if to == entity.RequestApproved {
		payload[event.KeyDocument] = req.PurchaseOrderDoc
		payload[event.KeyVendor] = req.VendorName()
		s.emit(ctx, event.TypeRequestApproved, req, actor, payload)
	} else {
		s.emit(ctx, event.TypeRequestRejected, req, actor, payload)
	}

	e.logger.Info("Purchase request decided",
		zap.Int64("request_id", req.ID),
		zap.Int("level", step.Level),
		zap.String("status", string(to)))

	return nil
}

// SubmitReceipt implements Engine
func (e *engineImpl) SubmitReceipt(ctx context.Context, actor *entity.Actor, requestID int64, receipt *entity.UploadedFile) (*entity.PurchaseRequest, error) {
	if receipt.Empty() {
		return nil, errs.Validation(errs.CodeMissingFile, "receipt file is required")
	}

	var (
		result  *entity.PurchaseRequest
		outcome string
	)
	err := e.execute(ctx, "submit_receipt", func(ctx context.Context, s *session) error {
		req, err := e.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !policy.CanSee(actor, req) {
			return errs.NotFound("purchase request", requestID)
		}
		if err := policy.AuthorizeReceipt(actor, req); err != nil {
			return err
		}

		machine := BuildRequestStateMachine(domainwf.State(req.Status))
		if err := machine.Fire(ctx, domainwf.TriggerSubmitReceipt); err != nil {
			return transitionError(err, errs.CodeNotApproved)
		}

		validation, err := e.documents.ValidateReceipt(ctx, receipt, req.Amount)
		if err == nil && validation == nil {
			err = errors.New("validator returned no result")
		}
		if err != nil {
			return errs.Wrap(err, errs.KindCollaborator, errs.CodeReceiptCheck, "receipt validation failed")
		}

		receiptPath := entity.SlotReceipt.Path(e.newBlobID(), receipt.Name)
		if err := s.store(ctx, receiptPath, receipt.Content); err != nil {
			return err
		}

		metadata := make(map[string]interface{}, len(req.AIMetadata)+1)
		for k, v := range req.AIMetadata {
			metadata[k] = v
		}
		metadata[entity.MetaReceiptValidation] = validation.ToMap()

		now := e.clock.Now()
		to := entity.RequestStatus(machine.State())
		err = e.requests.Transition(ctx, req.ID, req.Status, to, port.RequestPatch{
			ReceiptFile: receiptPath,
			AIMetadata:  metadata,
			UpdatedAt:   now,
		})
		if errors.Is(err, port.ErrStaleState) {
			return errs.Wrap(err, errs.KindPrecondition, errs.CodeNotApproved,
				fmt.Sprintf("request %d is no longer approved", req.ID))
		}
		if err != nil {
			return err
		}

		req.Status = to
		req.ReceiptFile = receiptPath
		req.AIMetadata = metadata
		req.UpdatedAt = now

		s.emit(ctx, event.TypeRequestCompleted, req, actor, map[string]interface{}{
			event.KeyTitle:      req.Title,
			event.KeyAmount:     req.Amount.StringFixed(2),
			event.KeyValidation: validation.Status,
			event.KeyDocument:   receiptPath,
		})
		result = req
		outcome = validation.Status
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Receipt submitted",
		zap.Int64("request_id", result.ID),
		zap.String("validation", outcome))

	return result, nil
}

// List implements Engine
func (e *engineImpl) List(ctx context.Context, actor *entity.Actor, opts port.ListOptions) ([]*entity.PurchaseRequest, error) {
	if opts.OrderBy == "" {
		opts.OrderBy = port.DefaultListOrder
	}
	if !opts.OrderBy.IsValid() {
		return nil, errs.Validation(errs.CodeInvalidField,
			fmt.Sprintf("unsupported ordering %q", opts.OrderBy))
	}

	requests, err := e.requests.ListVisible(ctx, actor, opts)
	if err != nil {
		return nil, err
	}

	return policy.Visible(actor, requests), nil
}

// Get implements Engine
func (e *engineImpl) Get(ctx context.Context, actor *entity.Actor, requestID int64) (*entity.PurchaseRequest, error) {
	req, err := e.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !policy.CanSee(actor, req) {
		return nil, errs.NotFound("purchase request", requestID)
	}
	return req, nil
}

// OpenDocument implements Engine
func (e *engineImpl) OpenDocument(ctx context.Context, actor *entity.Actor, requestID int64, slot entity.DocumentSlot) (*entity.Document, error) {
	if slot.Dir() == "" {
		return nil, errs.Validation(errs.CodeInvalidField, fmt.Sprintf("unknown document slot %q", slot))
	}

	req, err := e.Get(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}

	stored := req.DocumentPath(slot)
	if stored == "" {
		return nil, errs.E(errs.KindNotFound, errs.CodeNotFound,
			fmt.Sprintf("purchase request %d has no %s document", requestID, slot))
	}

	content, err := e.storage.Read(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s document: %w", slot, err)
	}

	return &entity.Document{
		Slot:    slot,
		Name:    path.Base(stored),
		Content: content,
	}, nil
}

func (e *engineImpl) loadRequest(ctx context.Context, id int64) (*entity.PurchaseRequest, error) {
	req, err := e.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errs.NotFound("purchase request", id)
	}
	return req, nil
}

// execute runs fn in one transaction. Blobs written through the session are
// removed unless the transaction commits; events are published only after it does.
func (e *engineImpl) execute(ctx context.Context, op string, fn func(ctx context.Context, s *session) error) error {
	s := &session{engine: e}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return fn(txCtx, s)
	})
	if err != nil {
		s.discard(context.WithoutCancel(ctx))
		e.logger.Warn("Workflow operation failed",
			zap.String("operation", op),
			zap.String("kind", string(errs.KindOf(err))),
			zap.String("code", errs.CodeOf(err)),
			zap.Error(err))
		return err
	}

	if e.dispatcher != nil && len(s.events) > 0 {
		e.dispatcher.DispatchAsync(ctx, s.events...)
	}

	return nil
}

// session tracks the side effects of one transaction
type session struct {
	engine  *engineImpl
	written []string
	events  []*event.Event
}

func (s *session) store(ctx context.Context, p string, content []byte) error {
	if err := s.engine.storage.Save(ctx, p, content); err != nil {
		return fmt.Errorf("failed to store %s: %w", p, err)
	}
	s.written = append(s.written, p)
	return nil
}

func (s *session) emit(ctx context.Context, t event.Type, req *entity.PurchaseRequest, actor *entity.Actor, payload map[string]interface{}) {
	payload[event.KeyStatus] = string(req.Status)
	s.events = append(s.events, event.NewEventWithCorrelation(
		t, req.ID, actor.ID, payload, s.engine.clock.Now(), CorrelationID(ctx),
	))
}

func (s *session) discard(ctx context.Context) {
	for _, p := range s.written {
		if err := s.engine.storage.Delete(ctx, p); err != nil {
			s.engine.logger.Error("Failed to remove orphaned blob", zap.String("path", p), zap.Error(err))
		}
	}
	s.written = nil
	s.events = nil
}

func validateDraft(d entity.RequestDraft) (entity.RequestDraft, error) {
	d.Title = utils.SanitizeString(d.Title)
	d.Description = utils.SanitizeString(d.Description)

	if d.Title == "" {
		return d, errs.Validation(errs.CodeInvalidField, "title is required")
	}
	if utf8.RuneCountInString(d.Title) > maxTitleLength {
		return d, errs.Validation(errs.CodeInvalidField,
			fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if err := utils.ValidateAmount(d.Amount); err != nil {
		return d, errs.Wrap(err, errs.KindValidation, errs.CodeInvalidAmount, "invalid amount")
	}
	return d, nil
}

// transitionError maps a rejected state machine transition to a precondition
// error. A failed guard always means the previous level is still open.
func transitionError(err error, code string) error {
	if errors.Is(err, domainwf.ErrGuardFailed) {
		return errs.Wrap(err, errs.KindPrecondition, errs.CodeLevelOrder, "previous approval level is not approved")
	}
	return errs.Wrap(err, errs.KindPrecondition, code, "transition not allowed")
}
