// Package policy decides which purchase requests an actor may see and which
// workflow actions an actor may take. All role rules live in one capability
// table; adding a role is a new table entry.
package policy

import (
	"fmt"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/errs"
)

// Visibility identifies the predicate selecting the requests a role may see
type Visibility string

const (
	VisibleNone          Visibility = "none"
	VisibleOwn           Visibility = "own"
	VisibleLevelOneQueue Visibility = "level_one_queue"
	VisibleLevelTwoQueue Visibility = "level_two_queue"
	VisibleApproved      Visibility = "approved"
)

// Capabilities describes what a role may do
type Capabilities struct {
	CreatesRequests bool
	SubmitsReceipts bool
	// DecidesLevel is the approval level the role signs off, 0 for none
	DecidesLevel int
	Visibility   Visibility
}

var table = map[entity.Role]Capabilities{
	entity.RoleStaff: {
		CreatesRequests: true,
		SubmitsReceipts: true,
		Visibility:      VisibleOwn,
	},
	entity.RoleApproverL1: {
		DecidesLevel: entity.LevelOne,
		Visibility:   VisibleLevelOneQueue,
	},
	entity.RoleApproverL2: {
		DecidesLevel: entity.LevelTwo,
		Visibility:   VisibleLevelTwoQueue,
	},
	entity.RoleFinance: {
		Visibility: VisibleApproved,
	},
}

// For returns the capabilities of role. Unknown roles get no rights.
func For(role entity.Role) Capabilities {
	if c, ok := table[role]; ok {
		return c
	}
	return Capabilities{Visibility: VisibleNone}
}

// RequiredLevel returns the approval level role decides, and false when the
// role decides none
func RequiredLevel(role entity.Role) (int, bool) {
	level := For(role).DecidesLevel
	return level, level > 0
}

// CanSee reports whether actor may see req
func CanSee(actor *entity.Actor, req *entity.PurchaseRequest) bool {
	if actor == nil || req == nil {
		return false
	}

	switch For(actor.Role).Visibility {
	case VisibleOwn:
		return req.CreatedBy == actor.ID
	case VisibleLevelOneQueue:
		return req.StepAt(entity.LevelOne) != nil
	case VisibleLevelTwoQueue:
		first := req.StepAt(entity.LevelOne)
		return first != nil && first.Status == entity.StepApproved && req.StepAt(entity.LevelTwo) != nil
	case VisibleApproved:
		return req.Status == entity.RequestApproved
	default:
		return false
	}
}

// Visible filters requests down to those actor may see, preserving order
func Visible(actor *entity.Actor, requests []*entity.PurchaseRequest) []*entity.PurchaseRequest {
	out := make([]*entity.PurchaseRequest, 0, len(requests))
	for _, r := range requests {
		if CanSee(actor, r) {
			out = append(out, r)
		}
	}
	return out
}

// AuthorizeCreate checks that actor may submit new requests
func AuthorizeCreate(actor *entity.Actor) error {
	if actor == nil || !For(actor.Role).CreatesRequests {
		return errs.Authorization(errs.CodeNotAuthorized, "only staff can create purchase requests")
	}
	return nil
}

// AuthorizeDecision checks that actor may decide step of req. The checks run
// in a fixed order so each denial has exactly one reason.
func AuthorizeDecision(actor *entity.Actor, req *entity.PurchaseRequest, step *entity.ApprovalStep) error {
	if actor == nil {
		return errs.Authorization(errs.CodeNotAuthorized, "approval requires an authenticated approver")
	}

	level, ok := RequiredLevel(actor.Role)
	if !ok {
		return errs.Authorization(errs.CodeNotAuthorized,
			fmt.Sprintf("role %q cannot decide approval steps", actor.Role))
	}
	if step.Level != level {
		return errs.Authorization(errs.CodeWrongLevel,
			fmt.Sprintf("step is level %d, not at your level %d", step.Level, level))
	}
	if req.Status != entity.RequestPending {
		return errs.Precondition(errs.CodeRequestClosed,
			fmt.Sprintf("request %d is %s and no longer accepts decisions", req.ID, req.Status))
	}
	if step.Status != entity.StepPending {
		return errs.Precondition(errs.CodeAlreadyDecided,
			fmt.Sprintf("level %d step already %s", step.Level, step.Status))
	}
	if step.Level == entity.LevelTwo {
		first := req.StepAt(entity.LevelOne)
		if first == nil || first.Status != entity.StepApproved {
			return errs.Precondition(errs.CodeLevelOrder, "level 1 must approve before level 2")
		}
	}
	return nil
}

// AuthorizeReceipt checks that actor may attach a receipt to req
func AuthorizeReceipt(actor *entity.Actor, req *entity.PurchaseRequest) error {
	if actor == nil || !For(actor.Role).SubmitsReceipts {
		return errs.Authorization(errs.CodeNotAuthorized, "only staff can submit receipts")
	}
	if req.CreatedBy != actor.ID {
		return errs.Authorization(errs.CodeNotOwner, "only the request owner can submit a receipt")
	}
	if req.Status != entity.RequestApproved {
		return errs.Precondition(errs.CodeNotApproved,
			fmt.Sprintf("request %d is %s; receipts are accepted once approved", req.ID, req.Status))
	}
	return nil
}
