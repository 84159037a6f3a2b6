package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Well-known channels used by the convenience senders.
const (
	ChannelTaskUpdates   = "task_updates"
	ChannelAlerts        = "alerts"
	ChannelSystemMetrics = "system_metrics"
)

// Outbound message types.
const (
	TypeWelcome       = "welcome"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypeAuthenticated = "authenticated"
	TypeBroadcast     = "broadcast"
	TypeError         = "error"
	TypeTaskStatus    = "task_status"
	TypeAlert         = "alert"
	TypeSystemMetrics = "system_metrics"
	TypeUserUpdate    = "user_update"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel,omitempty"`
	UserID    string    `json:"userId,omitempty"`
}

// Command is an inbound client message. The set of commands is closed:
// Subscribe, Unsubscribe, Auth, Broadcast and Custom.
type Command interface {
	command()
}

type Subscribe struct{ Channel string }

type Unsubscribe struct{ Channel string }

// Auth associates a user id with the connection. It is not a security check.
type Auth struct{ UserID string }

type Broadcast struct {
	Channel string
	Data    json.RawMessage
}

// Custom is any message whose type the hub does not handle itself. It is
// handed to the OnMessage hook.
type Custom struct {
	Type    string
	Channel string
	Data    json.RawMessage
}

func (Subscribe) command()   {}
func (Unsubscribe) command() {}
func (Auth) command()        {}
func (Broadcast) command()   {}
func (Custom) command()      {}

var ErrMalformed = errors.New("events: malformed message")

type inbound struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Channel string          `json:"channel"`
	UserID  string          `json:"userId"`
}

type inboundData struct {
	Channel string `json:"channel"`
	UserID  string `json:"userId"`
}

// ParseCommand decodes one inbound frame. Channel and user id are read from
// data first and from the envelope as a fallback.
func ParseCommand(b []byte) (Command, error) {
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var d inboundData
	if len(in.Data) > 0 && in.Data[0] == '{' {
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if d.Channel == "" {
		d.Channel = in.Channel
	}
	if d.UserID == "" {
		d.UserID = in.UserID
	}

	switch in.Type {
	case "subscribe":
		if d.Channel == "" {
			return nil, fmt.Errorf("%w: subscribe needs a channel", ErrMalformed)
		}
		return Subscribe{Channel: d.Channel}, nil
	case "unsubscribe":
		if d.Channel == "" {
			return nil, fmt.Errorf("%w: unsubscribe needs a channel", ErrMalformed)
		}
		return Unsubscribe{Channel: d.Channel}, nil
	case "auth":
		if d.UserID == "" {
			return nil, fmt.Errorf("%w: auth needs a userId", ErrMalformed)
		}
		return Auth{UserID: d.UserID}, nil
	case "broadcast":
		if d.Channel == "" {
			return nil, fmt.Errorf("%w: broadcast needs a channel", ErrMalformed)
		}
		return Broadcast{Channel: d.Channel, Data: in.Data}, nil
	default:
		return Custom{Type: in.Type, Channel: in.Channel, Data: in.Data}, nil
	}
}
