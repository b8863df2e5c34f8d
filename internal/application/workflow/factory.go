package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	domainwf "github.com/garyjia/p2p-procurement/internal/domain/workflow"
)

// BuildRequestStateMachine creates a state machine for the purchase request lifecycle
func BuildRequestStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerFinalApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	builder.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerSubmitReceipt, domainwf.StateCompleted)

	// REJECTED and COMPLETED are terminal states - no outgoing transitions

	return builder.Build(initialState)
}

// BuildStepStateMachine creates a state machine for one approval step of req.
// Approving level 2 is guarded by the level-1 step being APPROVED.
func BuildStepStateMachine(req *entity.PurchaseRequest, step *entity.ApprovalStep) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApproved, previousLevelApproved(req, step)).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// APPROVED and REJECTED are terminal states

	return builder.Build(domainwf.State(step.Status))
}

func previousLevelApproved(req *entity.PurchaseRequest, step *entity.ApprovalStep) domainwf.GuardFunc {
	return func(ctx context.Context) error {
		if step.Level <= entity.LevelOne {
			return nil
		}
		prev := req.StepAt(step.Level - 1)
		if prev == nil || prev.Status != entity.StepApproved {
			return fmt.Errorf("level %d step is not approved", step.Level-1)
		}
		return nil
	}
}

// requestTrigger maps a step decision onto the request machine. Level-1
// approval leaves the request untouched.
func requestTrigger(step *entity.ApprovalStep, decision entity.Decision) (domainwf.Trigger, bool) {
	switch {
	case decision == entity.DecisionReject:
		return domainwf.TriggerReject, true
	case step.Level == entity.LevelTwo:
		return domainwf.TriggerFinalApprove, true
	default:
		return "", false
	}
}

func stepTrigger(decision entity.Decision) domainwf.Trigger {
	if decision == entity.DecisionReject {
		return domainwf.TriggerReject
	}
	return domainwf.TriggerApprove
}
