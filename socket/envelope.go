////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package socket

import (
	"encoding/json"

	"github.com/pkg/errors"

	"gitlab.com/elite-erp/chatcore/channels"
)

// Event names on the wire that are not channel events.
const (
	joinRoomEvent        = "joinRoom"
	leaveRoomEvent       = "leaveRoom"
	sendMessageEvent     = "sendMessage"
	messageReactionEvent = "messageReaction"
	ackEvent             = "ack"
)

// Ack statuses.
const (
	ackOK    = "ok"
	ackError = "error"
)

// envelope is a single frame on the live connection. Ack is set on requests
// that expect an acknowledgement and on the acknowledgement itself.
type envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// newEnvelope builds an envelope with the payload marshalled into Data.
func newEnvelope(event, room string, payload interface{}) (envelope, error) {
	env := envelope{Event: event, Room: room}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, errors.Wrapf(err,
				"failed to marshal %s payload", event)
		}
		env.Data = data
	}
	return env, nil
}

// ackPayload is the data of an ack frame. Message holds the stored message
// when Status is ok and the refusal reason when it is error.
type ackPayload struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message,omitempty"`
}

// reason returns the refusal reason of an error ack.
func (ap ackPayload) reason() string {
	var reason string
	if err := json.Unmarshal(ap.Message, &reason); err != nil || reason == "" {
		return "no reason given"
	}
	return reason
}

// err returns a RejectedError if the server refused the request.
func (ap ackPayload) err() error {
	if ap.Status == ackOK {
		return nil
	}
	return &channels.RejectedError{Reason: ap.reason()}
}

// decodeEvent converts an inbound channel event frame into the event passed
// to room handlers.
func decodeEvent(env envelope) (channels.InboundEvent, error) {
	ev := channels.InboundEvent{Type: channels.EventType(env.Event)}
	var err error
	switch ev.Type {
	case channels.NewMessageEvent:
		ev.Message = &channels.Message{}
		err = json.Unmarshal(env.Data, ev.Message)
	case channels.ReactionUpdatedEvent:
		ev.Reaction = &channels.ReactionUpdate{}
		err = json.Unmarshal(env.Data, ev.Reaction)
	case channels.TypingEvent:
		ev.Typing = &channels.TypingSignal{}
		err = json.Unmarshal(env.Data, ev.Typing)
		if err == nil && ev.Typing.Room == "" {
			ev.Typing.Room = env.Room
		}
	default:
		return channels.InboundEvent{}, errors.Errorf(
			"unknown event %q", env.Event)
	}
	if err != nil {
		return channels.InboundEvent{}, errors.Wrapf(err,
			"failed to decode %s event", env.Event)
	}
	return ev, nil
}
