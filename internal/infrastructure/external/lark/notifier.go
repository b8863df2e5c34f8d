package lark

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/dispatcher"
	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	"github.com/garyjia/p2p-procurement/internal/domain/event"
)

const notifierName = "lark-notifier"

// notifiedEvents are the workflow events posted to the chat. Level-1 decisions
// are posted through step.decided; final outcomes through their own events.
var notifiedEvents = []event.Type{
	event.TypeRequestCreated,
	event.TypeStepDecided,
	event.TypeRequestApproved,
	event.TypeRequestRejected,
	event.TypeRequestCompleted,
}

// Notifier posts a chat message for every committed workflow event
type Notifier struct {
	sender port.MessageSender
	chatID string
	logger *zap.Logger
}

// NewNotifier creates a notifier posting to chatID
func NewNotifier(sender port.MessageSender, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// Register subscribes the notifier to the workflow events
func (n *Notifier) Register(d dispatcher.Dispatcher) {
	d.SubscribeAll(notifierName, n.Handle, notifiedEvents...)
}

// Handle implements dispatcher.Handler
func (n *Notifier) Handle(ctx context.Context, evt *event.Event) error {
	text := FormatMessage(evt)
	if text == "" {
		return nil
	}

	if err := n.sender.SendText(ctx, n.chatID, text); err != nil {
		n.logger.Warn("Failed to post workflow notification",
			zap.String("event_type", evt.Type.String()),
			zap.Int64("request_id", evt.RequestID),
			zap.Error(err))
		return err
	}
	return nil
}

// FormatMessage renders the chat text of an event, or "" for events that are not posted
func FormatMessage(evt *event.Event) string {
	title := evt.GetPayloadString(event.KeyTitle)
	amount := evt.GetPayloadString(event.KeyAmount)
	actor := evt.GetPayloadString(event.KeyActor)

	var b strings.Builder
	switch evt.Type {
	case event.TypeRequestCreated:
		fmt.Fprintf(&b, "New purchase request #%d: %s ($%s)", evt.RequestID, title, amount)
		if vendor := evt.GetPayloadString(event.KeyVendor); vendor != "" {
			fmt.Fprintf(&b, "\nVendor: %s", vendor)
		}
		b.WriteString("\nAwaiting level 1 approval.")
	case event.TypeStepDecided:
		if evt.GetPayloadString(event.KeyDecision) != string(entity.DecisionApprove) || evt.GetPayloadInt(event.KeyLevel) != entity.LevelOne {
			return ""
		}
		fmt.Fprintf(&b, "Purchase request #%d cleared level 1 (%s). Awaiting level 2 approval.", evt.RequestID, actor)
	case event.TypeRequestApproved:
		fmt.Fprintf(&b, "Purchase request #%d approved: %s ($%s)\nPurchase order PO-%05d issued.", evt.RequestID, title, amount, evt.RequestID)
	case event.TypeRequestRejected:
		fmt.Fprintf(&b, "Purchase request #%d rejected at level %d by %s.", evt.RequestID, evt.GetPayloadInt(event.KeyLevel), actor)
		if comment := evt.GetPayloadString(event.KeyComment); comment != "" {
			fmt.Fprintf(&b, "\nComment: %s", comment)
		}
	case event.TypeRequestCompleted:
		fmt.Fprintf(&b, "Receipt submitted for purchase request #%d. Validation: %s.", evt.RequestID, evt.GetPayloadString(event.KeyValidation))
	default:
		return ""
	}
	return b.String()
}
