package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// Step triggers
	TriggerApprove Trigger = "APPROVE"
	TriggerReject  Trigger = "REJECT"

	// Request triggers
	TriggerFinalApprove  Trigger = "FINAL_APPROVE"
	TriggerSubmitReceipt Trigger = "SUBMIT_RECEIPT"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
