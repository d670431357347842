package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/adeilh/rakh-auth/internal/logctx"
)

// EventsTopic is where lifecycle events are published.
const EventsTopic = "auth.events"

type EventType string

const (
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginFailed    EventType = "login_failed"
	EventTokenRefreshed EventType = "token_refreshed"
	EventRefreshDenied  EventType = "refresh_denied"
	EventLoggedOut      EventType = "logged_out"
)

// Event is the JSON payload of a lifecycle message. It never carries token
// material.
type Event struct {
	Type       EventType `json:"type"`
	Subject    string    `json:"subject,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Issued     []string  `json:"issued,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher is the subset of message.Publisher the authenticator uses.
type EventPublisher interface {
	Publish(topic string, messages ...*message.Message) error
}

type eventEmitter struct {
	pub    EventPublisher
	topic  string
	logger *slog.Logger
}

// emit is best effort: a publish failure is logged and otherwise ignored.
func (e eventEmitter) emit(ctx context.Context, evt Event) {
	if e.pub == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshal auth event", slog.Any("err", err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(evt.Type))
	if id := logctx.RequestID(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	if err := e.pub.Publish(e.topic, msg); err != nil {
		logctx.FromOr(ctx, e.logger).WarnContext(ctx, "publish auth event",
			slog.String("type", string(evt.Type)), slog.Any("err", err))
	}
}

// DecodeEvent parses a message produced by the authenticator.
func DecodeEvent(msg *message.Message) (Event, error) {
	var evt Event
	err := json.Unmarshal(msg.Payload, &evt)
	return evt, err
}
