package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/p2p-procurement/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/p2p-procurement/pkg/database"
)

type fixture struct {
	db       *sqlite.DB
	requests *RequestRepository
	steps    *StepRepository
	users    *UserRepository
	staff    *entity.User
	other    *entity.User
	l1       *entity.User
	l2       *entity.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(migrations.FS, migrations.Dir))

	f := &fixture{
		db:       sqlite.NewDB(db.DB, logger),
		requests: NewRequestRepository(db.DB, logger),
		steps:    NewStepRepository(db.DB, logger),
		users:    NewUserRepository(db.DB, logger),
	}

	ctx := context.Background()
	f.staff = &entity.User{Username: "alice", Role: entity.RoleStaff}
	f.other = &entity.User{Username: "bob", Role: entity.RoleStaff}
	f.l1 = &entity.User{Username: "lena", Role: entity.RoleApproverL1}
	f.l2 = &entity.User{Username: "leo", Role: entity.RoleApproverL2}
	for _, u := range []*entity.User{f.staff, f.other, f.l1, f.l2} {
		require.NoError(t, f.users.Create(ctx, u))
	}

	return f
}

func (f *fixture) createRequest(t *testing.T, owner *entity.User, title string, at time.Time) *entity.PurchaseRequest {
	t.Helper()
	ctx := context.Background()

	req := &entity.PurchaseRequest{
		Title:        title,
		Amount:       decimal.RequireFromString("1500.00"),
		Status:       entity.RequestPending,
		CreatedBy:    owner.ID,
		ProformaFile: "proformas/abc_quote.pdf",
		AIMetadata:   map[string]interface{}{entity.MetaVendorName: "Tech Corp Solutions"},
		CreatedAt:    at,
		UpdatedAt:    at,
	}

	err := f.db.WithTransaction(ctx, func(ctx context.Context) error {
		if err := f.requests.Create(ctx, req); err != nil {
			return err
		}
		for _, level := range entity.ApprovalLevels {
			step := &entity.ApprovalStep{RequestID: req.ID, Level: level, Status: entity.StepPending}
			if err := f.steps.Create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	return got
}

func TestRequestRepository_CreateAndGet(t *testing.T) {
	f := setup(t)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	req := f.createRequest(t, f.staff, "Laptop", at)

	assert.Equal(t, "Laptop", req.Title)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("1500")))
	assert.Equal(t, entity.RequestPending, req.Status)
	assert.Equal(t, "alice", req.CreatedByName)
	assert.Equal(t, "Tech Corp Solutions", req.VendorName())
	assert.True(t, req.CreatedAt.Equal(at))
	require.Len(t, req.Steps, 2)
	assert.Equal(t, 1, req.Steps[0].Level)
	assert.Equal(t, 2, req.Steps[1].Level)
	for _, s := range req.Steps {
		assert.Equal(t, entity.StepPending, s.Status)
		assert.Nil(t, s.ApproverID)
		assert.Nil(t, s.ReviewedAt)
	}

	missing, err := f.requests.GetByID(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRequestRepository_RollbackLeavesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	boom := errors.New("extraction failed")

	var id int64
	err := f.db.WithTransaction(ctx, func(ctx context.Context) error {
		req := &entity.PurchaseRequest{
			Title: "Chair", Amount: decimal.NewFromInt(10), Status: entity.RequestPending,
			CreatedBy: f.staff.ID, ProformaFile: "proformas/x.pdf",
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		if err := f.requests.Create(ctx, req); err != nil {
			return err
		}
		id = req.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := f.requests.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStepRepository_UniqueLevelPerRequest(t *testing.T) {
	f := setup(t)
	req := f.createRequest(t, f.staff, "Desk", time.Now().UTC())

	err := f.steps.Create(context.Background(), &entity.ApprovalStep{
		RequestID: req.ID, Level: entity.LevelOne, Status: entity.StepPending,
	})
	assert.Error(t, err)
}

func TestStepRepository_DecideIsConditional(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.createRequest(t, f.staff, "Monitor", time.Now().UTC())
	step := req.StepAt(entity.LevelOne)
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.steps.Decide(ctx, step.ID, entity.StepApproved, f.l1.ID, "ok", at))

	err := f.steps.Decide(ctx, step.ID, entity.StepRejected, f.l1.ID, "changed my mind", at)
	assert.ErrorIs(t, err, port.ErrStaleState)

	got, err := f.steps.GetByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StepApproved, got.Status)
	assert.Equal(t, "ok", got.Comments)
	assert.Equal(t, "lena", got.ApproverName)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.ReviewedAt.Equal(at))
}

func TestStepRepository_ApproverDeletionKeepsStep(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.createRequest(t, f.staff, "Keyboard", time.Now().UTC())
	step := req.StepAt(entity.LevelOne)

	require.NoError(t, f.steps.Decide(ctx, step.ID, entity.StepApproved, f.l1.ID, "fine", time.Now().UTC()))
	require.NoError(t, f.users.Delete(ctx, f.l1.ID))

	got, err := f.steps.GetByID(ctx, step.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.ApproverID)
	assert.Empty(t, got.ApproverName)
	assert.Equal(t, entity.StepApproved, got.Status)
	assert.Equal(t, "fine", got.Comments)

	deleted, err := f.users.GetByID(ctx, f.l1.ID)
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestRequestRepository_Transition(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := f.createRequest(t, f.staff, "Printer", time.Now().UTC())
	at := time.Now().UTC()

	err := f.requests.Transition(ctx, req.ID, entity.RequestApproved, entity.RequestCompleted, port.RequestPatch{
		ReceiptFile: "receipts/r.png", UpdatedAt: at,
	})
	assert.ErrorIs(t, err, port.ErrStaleState, "request is not APPROVED yet")

	err = f.requests.Transition(ctx, req.ID, entity.RequestPending, entity.RequestApproved, port.RequestPatch{
		PurchaseOrderDoc: "pos/PO_1_1.pdf", UpdatedAt: at,
	})
	require.NoError(t, err)

	metadata := map[string]interface{}{
		entity.MetaVendorName:        "Tech Corp Solutions",
		entity.MetaReceiptValidation: map[string]interface{}{"status": "MATCH"},
	}
	err = f.requests.Transition(ctx, req.ID, entity.RequestApproved, entity.RequestCompleted, port.RequestPatch{
		ReceiptFile: "receipts/r.png", AIMetadata: metadata, UpdatedAt: at,
	})
	require.NoError(t, err)

	got, err := f.requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestCompleted, got.Status)
	assert.Equal(t, "pos/PO_1_1.pdf", got.PurchaseOrderDoc)
	assert.Equal(t, "receipts/r.png", got.ReceiptFile)
	assert.Equal(t, "Tech Corp Solutions", got.AIMetadata[entity.MetaVendorName])
	validation, ok := got.AIMetadata[entity.MetaReceiptValidation].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "MATCH", validation["status"])
}

func TestRequestRepository_SchemaRejectsApprovalWithoutPO(t *testing.T) {
	f := setup(t)
	req := f.createRequest(t, f.staff, "Phone", time.Now().UTC())

	err := f.requests.Transition(context.Background(), req.ID, entity.RequestPending, entity.RequestApproved, port.RequestPatch{
		UpdatedAt: time.Now().UTC(),
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrStaleState)
}

func TestRequestRepository_ListVisible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r1 := f.createRequest(t, f.staff, "first", base)
	r2 := f.createRequest(t, f.staff, "second", base.Add(time.Hour))
	r3 := f.createRequest(t, f.other, "third", base.Add(2*time.Hour))

	require.NoError(t, f.steps.Decide(ctx, r2.StepAt(1).ID, entity.StepApproved, f.l1.ID, "", base))
	require.NoError(t, f.steps.Decide(ctx, r3.StepAt(1).ID, entity.StepRejected, f.l1.ID, "", base))
	require.NoError(t, f.requests.Transition(ctx, r3.ID, entity.RequestPending, entity.RequestRejected, port.RequestPatch{UpdatedAt: base}))

	ids := func(actor *entity.Actor, order port.ListOrder) []int64 {
		list, err := f.requests.ListVisible(ctx, actor, port.ListOptions{OrderBy: order})
		require.NoError(t, err)
		out := []int64{}
		for _, r := range list {
			require.Len(t, r.Steps, 2)
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []int64{r2.ID, r1.ID}, ids(f.staff.Actor(), ""))
	assert.Equal(t, []int64{r1.ID, r2.ID}, ids(f.staff.Actor(), port.OrderCreatedAsc))
	assert.Equal(t, []int64{r3.ID}, ids(f.other.Actor(), port.OrderCreatedDesc))
	assert.Equal(t, []int64{r3.ID, r2.ID, r1.ID}, ids(f.l1.Actor(), port.OrderCreatedDesc))
	assert.Equal(t, []int64{r2.ID}, ids(f.l2.Actor(), port.OrderCreatedDesc))
	assert.Equal(t, []int64{r2.ID, r1.ID, r3.ID}, ids(f.l1.Actor(), port.OrderStatusAsc))
	assert.Empty(t, ids(&entity.Actor{ID: 99, Role: entity.RoleFinance}, ""))
	assert.Empty(t, ids(&entity.Actor{ID: 99, Role: "GUEST"}, ""))

	_, err := f.requests.ListVisible(ctx, f.staff.Actor(), port.ListOptions{OrderBy: "title; DROP TABLE users"})
	assert.Error(t, err)
}

// More visible requests than SQLite allows bound variables in one statement
func TestRequestRepository_ListVisibleBeyondVariableLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("bulk insert")
	}
	f := setup(t)
	ctx := context.Background()
	const total = 33000
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := f.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := sqlite.TxFromContext(ctx)
		if _, err := exec.ExecContext(ctx, `
			INSERT INTO purchase_requests (title, amount, status, created_by, proforma_file, created_at, updated_at)
			WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < ?)
			SELECT 'bulk ' || i, '10.00', 'PENDING', ?, 'proformas/bulk.pdf', ?, ? FROM n`,
			total, f.staff.ID, at, at); err != nil {
			return err
		}
		_, err := exec.ExecContext(ctx, `
			INSERT INTO approval_steps (request_id, level)
			SELECT id, 1 FROM purchase_requests UNION ALL SELECT id, 2 FROM purchase_requests`)
		return err
	})
	require.NoError(t, err)

	for _, actor := range []*entity.Actor{f.l1.Actor(), f.staff.Actor()} {
		list, err := f.requests.ListVisible(ctx, actor, port.ListOptions{})
		require.NoError(t, err)
		require.Len(t, list, total)
		for _, r := range []*entity.PurchaseRequest{list[0], list[total/2], list[total-1]} {
			require.Len(t, r.Steps, 2)
			assert.Equal(t, 1, r.Steps[0].Level)
			assert.Equal(t, 2, r.Steps[1].Level)
		}
	}

	list, err := f.requests.ListVisible(ctx, f.other.Actor(), port.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTransactionManager_ReusesOuterTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var inner *sql.Tx
	err := f.db.WithTransaction(ctx, func(outerCtx context.Context) error {
		outer := sqlite.TxFromContext(outerCtx)
		require.NotNil(t, outer)
		return f.db.WithTransaction(outerCtx, func(innerCtx context.Context) error {
			inner = sqlite.TxFromContext(innerCtx)
			assert.Same(t, outer, inner)
			return nil
		})
	})
	require.NoError(t, err)
	assert.NotNil(t, inner)
}

func TestRequestRepository_ReferencedDocuments(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	paths, err := f.requests.ReferencedDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, paths)

	req := f.createRequest(t, f.staff, "Printer", time.Now().UTC())
	f.createRequest(t, f.other, "Desk", time.Now().UTC())
	require.NoError(t, f.requests.Transition(ctx, req.ID, entity.RequestPending, entity.RequestApproved, port.RequestPatch{
		PurchaseOrderDoc: "pos/PO_1_1.pdf", UpdatedAt: time.Now().UTC(),
	}))

	paths, err = f.requests.ReferencedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"proformas/abc_quote.pdf": {},
		"pos/PO_1_1.pdf":          {},
	}, paths)
}
