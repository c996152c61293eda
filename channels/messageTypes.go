////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import "fmt"

// EventType is the name of an event on the live channel.
type EventType string

const (
	// NewMessageEvent is broadcast to a room when a message is stored.
	NewMessageEvent EventType = "newMessage"

	// ReactionUpdatedEvent carries the canonical reaction state of a message.
	ReactionUpdatedEvent EventType = "reactionUpdated"

	// TypingEvent carries a typing indicator of another user.
	TypingEvent EventType = "typing"
)

// String returns the event name. This function adheres to the
// [fmt.Stringer] interface.
func (et EventType) String() string {
	switch et {
	case NewMessageEvent, ReactionUpdatedEvent, TypingEvent:
		return string(et)
	default:
		return fmt.Sprintf("Unknown EventType %q", string(et))
	}
}

// InboundEvent is a single event received on a subscribed room. Exactly one
// of the payload fields is set, matching Type.
type InboundEvent struct {
	Type     EventType
	Message  *Message
	Reaction *ReactionUpdate
	Typing   *TypingSignal

	// Broadcast is set when the event carried no room and was passed to every
	// joined room. It only applies to rooms that hold the affected message.
	Broadcast bool
}

// ReactionUpdate is the canonical reaction state of one message as broadcast
// by the server after anyone's toggle.
type ReactionUpdate struct {
	MessageID MessageID       `json:"messageId"`
	Reactions []ReactionGroup `json:"reactions"`
}

// TypingSignal is the payload of the typing event in both directions.
type TypingSignal struct {
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
	UserName string `json:"userName"`
}

// ReactionAction is the intent of a reaction toggle.
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// ReactionIntent is the payload of the outbound messageReaction event.
type ReactionIntent struct {
	Room      string         `json:"roomId"`
	MessageID MessageID      `json:"messageId"`
	UserID    UserID         `json:"userId"`
	Emoji     string         `json:"emoji"`
	Action    ReactionAction `json:"action"`
}

// SendRequest is the payload of the outbound sendMessage event. ClientTempID
// is the correlation token of the optimistic entry.
type SendRequest struct {
	Room         string    `json:"roomId"`
	Content      string    `json:"content"`
	UserID       UserID    `json:"userId"`
	FileIDs      []int64   `json:"fileIds,omitempty"`
	ParentID     MessageID `json:"parentId,omitempty"`
	ClientTempID TempID    `json:"clientTempId"`
}

// EventHandler receives the events of one room subscription.
type EventHandler func(ev InboundEvent)
