////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

// EventModel is an interface which an external party which uses the channels
// system passes an object which adheres to in order to get events on the
// channel. Calls are made outside of the internal state locks and may come from any
// goroutine. Calls reporting live events and history pages are made while the
// channel's subscription is held, so they must not call back into the
// Manager synchronously.
type EventModel interface {
	// JoinChannel is called whenever a channel is joined locally.
	JoinChannel(channel Channel)

	// LeaveChannel is called whenever a channel is left locally.
	LeaveChannel(channelID ChannelID)

	// ReceiveMessage is called whenever a confirmed message is received on a
	// given channel, either from a history page or from the live channel. It
	// may be called multiple times on the same message. It is incumbent on the
	// user of the API to filter such calls by message ID.
	//
	// Replies arrive with ParentID set to their immediate parent. The parent
	// may arrive later, or never.
	ReceiveMessage(msg Message)

	// UpdateFromTempID is called whenever the status of a locally sent
	// message changes. It is first called with Unsent and the pending message,
	// then once with either Sent or Delivered and the confirmed message, or
	// Failed and the pending message.
	UpdateFromTempID(channelID ChannelID, tempID TempID, msg Message,
		status SentStatus)

	// UpdateReactions is called whenever the reactions on a message change.
	// groups is the complete set of reactions on the message.
	UpdateReactions(channelID ChannelID, messageID MessageID,
		groups []ReactionGroup)

	// UpdateTyping is called whenever the remote typing indicator of a channel
	// changes. userName is empty when typing is false.
	UpdateTyping(channelID ChannelID, userName string, typing bool)
}

// nopEventModel is the EventModel used when none is provided.
type nopEventModel struct{}

func (nopEventModel) JoinChannel(Channel)                                     {}
func (nopEventModel) LeaveChannel(ChannelID)                                  {}
func (nopEventModel) ReceiveMessage(Message)                                  {}
func (nopEventModel) UpdateFromTempID(ChannelID, TempID, Message, SentStatus) {}
func (nopEventModel) UpdateReactions(ChannelID, MessageID, []ReactionGroup)   {}
func (nopEventModel) UpdateTyping(ChannelID, string, bool)                    {}
