// Package broadcast delivers ledger events to realtime subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event names
const (
	EventNewToken        = "newToken"
	EventNewTrade        = "newTrade"
	EventChartDataUpdate = "chartDataUpdate"
	EventWalletRenamed   = "walletRenamed"
)

// Publisher is a fire-and-forget sink for events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Message is the wire envelope sent to subscribers
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps payload in a Message envelope
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", event, err)
	}
	return msg, nil
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
