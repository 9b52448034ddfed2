package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"charity-service/internal/models"

	"github.com/go-playground/validator/v10"
)

// EventName identifies a frame on the wire.
type EventName string

const (
	// Client to server
	EventSubscribeCommunity   EventName = "subscribe_community"
	EventUnsubscribeCommunity EventName = "unsubscribe_community"
	EventPing                 EventName = "ping"

	// Server to client
	EventConnectionEstablished EventName = "connection_established"
	EventCommunitySubscribed   EventName = "community_subscribed"
	EventCommunityUnsubscribed EventName = "community_unsubscribed"
	EventNewMessage            EventName = "new_message"
	EventMessageEdited         EventName = "message_edited"
	EventMessageDeleted        EventName = "message_deleted"
	EventMessageReactionAdded  EventName = "message_reaction_added"
	EventPong                  EventName = "pong"
	EventError                 EventName = "error"
)

func (n EventName) String() string {
	return string(n)
}

// IsInbound reports whether clients are allowed to send this event.
func (n EventName) IsInbound() bool {
	switch n {
	case EventSubscribeCommunity, EventUnsubscribeCommunity, EventPing:
		return true
	default:
		return false
	}
}

// Event is implemented by every outbound payload. The concrete type fixes the
// schema of the frame, so a payload can only be sent under its own name.
type Event interface {
	EventName() EventName
}

type ConnectionEstablished struct {
	UserID      string             `json:"userId"`
	UserDetails models.UserSummary `json:"userDetails"`
	Timestamp   time.Time          `json:"timestamp"`
}

type CommunitySubscribed struct {
	CommunityID   string `json:"communityId"`
	CommunityName string `json:"communityName"`
}

type CommunityUnsubscribed struct {
	CommunityID string `json:"communityId"`
}

type NewMessage struct {
	Message       models.CommunityMessage `json:"message"`
	CommunityID   string                  `json:"communityId"`
	CommunityName string                  `json:"communityName"`
}

type MessageEdited struct {
	Message       models.CommunityMessage `json:"message"`
	CommunityID   string                  `json:"communityId"`
	CommunityName string                  `json:"communityName"`
}

type MessageDeleted struct {
	MessageID     string `json:"messageId"`
	CommunityID   string `json:"communityId"`
	CommunityName string `json:"communityName"`
}

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type MessageReactionAdded struct {
	MessageID   string   `json:"messageId"`
	Reaction    Reaction `json:"reaction"`
	CommunityID string   `json:"communityId"`
}

type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (ConnectionEstablished) EventName() EventName { return EventConnectionEstablished }
func (CommunitySubscribed) EventName() EventName   { return EventCommunitySubscribed }
func (CommunityUnsubscribed) EventName() EventName { return EventCommunityUnsubscribed }
func (NewMessage) EventName() EventName            { return EventNewMessage }
func (MessageEdited) EventName() EventName         { return EventMessageEdited }
func (MessageDeleted) EventName() EventName        { return EventMessageDeleted }
func (MessageReactionAdded) EventName() EventName  { return EventMessageReactionAdded }
func (Pong) EventName() EventName                  { return EventPong }
func (ErrorEvent) EventName() EventName            { return EventError }

// NewErrorEvent builds an error frame stamped with the current time.
func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Message: message, Timestamp: time.Now().UTC()}
}

// Envelope is the JSON frame exchanged over a connection.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode serializes an event into a wire frame.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// Inbound control payloads.

type SubscribeCommunity struct {
	CommunityID string `json:"communityId" validate:"required,max=64"`
}

type UnsubscribeCommunity struct {
	CommunityID string `json:"communityId" validate:"required,max=64"`
}

type Ping struct{}

// ControlMessage is a decoded inbound frame: exactly one of the pointers is set.
type ControlMessage struct {
	Name        EventName
	Subscribe   *SubscribeCommunity
	Unsubscribe *UnsubscribeCommunity
	Ping        *Ping
}

var validate = validator.New()

// DecodeControl parses and validates a client frame.
func DecodeControl(frame []byte) (ControlMessage, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid frame: %w", err)
	}
	if !env.Event.IsInbound() {
		return ControlMessage{}, fmt.Errorf("unsupported event %q", env.Event)
	}

	msg := ControlMessage{Name: env.Event}
	var target any
	switch env.Event {
	case EventSubscribeCommunity:
		msg.Subscribe = &SubscribeCommunity{}
		target = msg.Subscribe
	case EventUnsubscribeCommunity:
		msg.Unsubscribe = &UnsubscribeCommunity{}
		target = msg.Unsubscribe
	case EventPing:
		msg.Ping = &Ping{}
		return msg, nil
	}

	if len(env.Data) == 0 {
		return ControlMessage{}, fmt.Errorf("%s: missing data", env.Event)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return ControlMessage{}, fmt.Errorf("%s: %w", env.Event, err)
	}
	if err := validate.Struct(target); err != nil {
		return ControlMessage{}, fmt.Errorf("%s: %w", env.Event, err)
	}
	return msg, nil
}
