package ws

import (
	"encoding/json"
	"fmt"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// Frame socket 上的一条文本消息，上下行通用
type Frame struct {
	Event entity.EventKind `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

func encodeFrame(event entity.EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedEvent, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", entity.ErrMalformedEvent)
	}
	return &f, nil
}
