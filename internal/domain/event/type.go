package event

// Type identifies the type of workflow event
type Type string

const (
	TypeRequestCreated   Type = "request.created"
	TypeStepDecided      Type = "step.decided"
	TypeRequestApproved  Type = "request.approved"
	TypeRequestRejected  Type = "request.rejected"
	TypeRequestCompleted Type = "request.completed"
)

// AllTypes lists every workflow event type
var AllTypes = []Type{
	TypeRequestCreated,
	TypeStepDecided,
	TypeRequestApproved,
	TypeRequestRejected,
	TypeRequestCompleted,
}

// Payload keys shared by publishers and subscribers
const (
	KeyTitle      = "title"
	KeyAmount     = "amount"
	KeyStatus     = "status"
	KeyLevel      = "level"
	KeyDecision   = "decision"
	KeyComment    = "comment"
	KeyActor      = "actor"
	KeyVendor     = "vendor_name"
	KeyDocument   = "document"
	KeyValidation = "validation_status"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestCreated,
		TypeStepDecided,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCompleted:
		return true
	default:
		return false
	}
}
