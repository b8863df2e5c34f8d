package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/port"
)

// Messenger posts text messages to Lark chats
type Messenger struct {
	sdk           *SDKClient
	receiveIDType string
	logger        *zap.Logger
}

var _ port.MessageSender = (*Messenger)(nil)

// NewMessenger creates a messenger addressing receivers by chat_id
func NewMessenger(sdk *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		sdk:           sdk,
		receiveIDType: larkim.ReceiveIdTypeChatId,
		logger:        logger,
	}
}

// SendText implements port.MessageSender
func (m *Messenger) SendText(ctx context.Context, receiveID string, content string) error {
	if receiveID == "" {
		return errors.New("receiveID cannot be empty")
	}
	if content == "" {
		return errors.New("content cannot be empty")
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(m.receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(body)).
			Build()).
		Build()

	resp, err := m.sdk.GetClient().Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", receiveID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	m.logger.Debug("Message sent", zap.String("message_id", messageID), zap.String("receive_id", receiveID))

	return nil
}
