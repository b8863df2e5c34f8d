package workflow

import (
	"context"
	"errors"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"completed", StateCompleted, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerFinalApprove.String(); got != "FINAL_APPROVE" {
		t.Errorf("Trigger.String() = %v, want %v", got, "FINAL_APPROVE")
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder()

	config := builder.Configure(StatePending)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure(StatePending); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	NewBuilder().Configure(State("INVALID"))
}

func TestBuilder_BuildPanicsOnInvalidInitialState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Build() should panic on invalid initial state")
		}
	}()

	NewBuilder().Build(State("INVALID"))
}

func TestBuilder_BuildCopiesTable(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerApprove, StateApproved)

	machine := builder.Build(StatePending)
	builder.Configure(StatePending).Permit(TriggerReject, StateRejected)

	if machine.CanFire(TriggerReject) {
		t.Error("machine built before Configure() must not see later transitions")
	}
}

func TestStateConfiguration_Permit(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		Permit(TriggerApprove, StateApproved)

	machine := builder.Build(StatePending)

	if !machine.CanFire(TriggerApprove) {
		t.Error("CanFire() should return true for permitted trigger")
	}

	if err := machine.Fire(context.Background(), TriggerApprove); err != nil {
		t.Errorf("Fire() failed: %v", err)
	}

	if machine.State() != StateApproved {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), StateApproved)
	}

	if !machine.IsTerminal() {
		t.Error("APPROVED has no outgoing transitions and should be terminal")
	}
}

func TestStateMachine_FireUnconfiguredTrigger(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerApprove, StateApproved)

	machine := builder.Build(StatePending)
	err := machine.Fire(context.Background(), TriggerSubmitReceipt)

	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if machine.State() != StatePending {
		t.Errorf("State should remain %v, got %v", StatePending, machine.State())
	}
}

func TestStateConfiguration_PermitIf_GuardFails(t *testing.T) {
	reason := errors.New("level 1 not approved")
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, func(ctx context.Context) error {
			return reason
		})

	machine := builder.Build(StatePending)

	err := machine.Fire(context.Background(), TriggerApprove)
	if err == nil {
		t.Fatal("Fire() should fail when guard fails")
	}
	if !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if !errors.Is(err, reason) {
		t.Errorf("Fire() error = %v, should wrap guard reason", err)
	}
	if machine.State() != StatePending {
		t.Errorf("State should remain %v after failed Fire(), got %v", StatePending, machine.State())
	}
}

func TestStateConfiguration_PermitIf_FirstPassingGuardWins(t *testing.T) {
	type key struct{}
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, func(ctx context.Context) error {
			if ctx.Value(key{}) == "final" {
				return nil
			}
			return errors.New("not final")
		}).
		Permit(TriggerApprove, StatePending)

	machine1 := builder.Build(StatePending)
	ctx1 := context.WithValue(context.Background(), key{}, "final")
	if err := machine1.Fire(ctx1, TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine1.State() != StateApproved {
		t.Errorf("State after Fire() = %v, want %v", machine1.State(), StateApproved)
	}

	machine2 := builder.Build(StatePending)
	if err := machine2.Fire(context.Background(), TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine2.State() != StatePending {
		t.Errorf("State after Fire() = %v, want %v", machine2.State(), StatePending)
	}
}

func TestStateMachine_PermittedTriggersSorted(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerFinalApprove, StateApproved)

	got := builder.Build(StatePending).PermittedTriggers()
	want := []Trigger{TriggerFinalApprove, TriggerReject}

	if len(got) != len(want) {
		t.Fatalf("PermittedTriggers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PermittedTriggers()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if !builder.Build(StateCompleted).IsTerminal() {
		t.Error("unconfigured state should be terminal")
	}
}
