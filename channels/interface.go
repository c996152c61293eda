////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"context"
)

// Manager is the channel messaging engine behind the team chat. It keeps a
// consistent, ordered and deduplicated view of each channel's history across
// paginated fetches, live events and optimistic local writes.
type Manager interface {

	////////////////////////////////////////////////////////////////////////////
	// Channel Actions                                                        //
	////////////////////////////////////////////////////////////////////////////

	// SwitchChannel makes the given channel the active one. It leaves the
	// previously active channel, resets the cached state of both channels,
	// joins the new channel's room and loads its most recent page.
	//
	// A history response or live event for the previous channel that arrives
	// after the switch is discarded.
	SwitchChannel(ctx context.Context, channel Channel) error

	// LeaveChannel leaves the active channel and clears its state. It is a
	// no-op if no channel is active.
	LeaveChannel(ctx context.Context) error

	// ActiveChannel returns the active channel, if any.
	ActiveChannel() (Channel, bool)

	////////////////////////////////////////////////////////////////////////////
	// Reading                                                                //
	////////////////////////////////////////////////////////////////////////////

	// LoadOlder fetches the next older page of the channel's history and
	// merges it into the view. Concurrent calls for the same channel share
	// one request.
	//
	// Returns a RetryableError if the fetch failed; the view is unchanged.
	LoadOlder(ctx context.Context, channelID ChannelID) (Page, error)

	// View returns the deduplicated messages of the channel in ascending
	// creation order, decorated with their reactions. The returned slice is a
	// copy.
	View(channelID ChannelID) []Message

	// Threads returns the view of the channel grouped into roots and their
	// replies.
	Threads(channelID ChannelID) Thread

	////////////////////////////////////////////////////////////////////////////
	// Writing                                                                //
	////////////////////////////////////////////////////////////////////////////

	// SendMessage shows the draft in the view immediately as a pending message
	// and sends it in the background. The returned TempID identifies the
	// pending entry until it is confirmed. done, if not nil, is called once
	// with the confirmed message or the error.
	SendMessage(ctx context.Context, channelID ChannelID, draft Draft,
		done SendCallback) (TempID, error)

	// ToggleReaction adds the current user's reaction with the emoji to the
	// message, or removes it if already present. The change is visible
	// immediately and corrected by the server's canonical state.
	ToggleReaction(ctx context.Context, channelID ChannelID,
		messageID MessageID, emoji string) error

	// OnLocalInput signals that the user is typing in the channel.
	OnLocalInput(ctx context.Context, channelID ChannelID)

	// TypingIndicator returns the name of the user shown as typing in the
	// channel.
	TypingIndicator(channelID ChannelID) (string, bool)
}

// SendCallback is called once when a send completes. On success msg is the
// confirmed message; on failure err is a RetryableError or RejectedError and
// the pending entry has been removed.
type SendCallback func(tempID TempID, msg Message, err error)

// Fetcher retrieves pages of a channel's history. before is the cursor of
// the page (zero for the most recent page).
type Fetcher interface {
	FetchPage(ctx context.Context, channelID ChannelID, before MessageID,
		limit int) (Page, error)
}

// LiveChannel is the persistent bidirectional connection to the server.
type LiveChannel interface {
	// JoinRoom subscribes to a room. Every event of the room is passed to the
	// handler until LeaveRoom is called.
	JoinRoom(ctx context.Context, room string, handler EventHandler) error

	// LeaveRoom unsubscribes from a room.
	LeaveRoom(ctx context.Context, room string) error

	// SendMessage sends a message and blocks until the server acknowledges
	// it. An explicit refusal is returned as a RejectedError.
	SendMessage(ctx context.Context, req SendRequest) (Message, error)

	// React emits a reaction intent.
	React(ctx context.Context, intent ReactionIntent) error

	// Typing emits a typing signal.
	Typing(ctx context.Context, signal TypingSignal) error
}

// FileUpload is a file attached to a draft, uploaded before the message is
// sent.
type FileUpload struct {
	Name string
	Data []byte
}

// FileStore uploads attachment bytes and returns a stable reference.
type FileStore interface {
	Upload(ctx context.Context, file FileUpload) (Attachment, error)
}

// Identity supplies the current user for message authorship and reaction
// attribution.
type Identity interface {
	UserID() UserID
	DisplayName() string
}

// Draft is a message composed locally.
type Draft struct {
	Content string

	// ParentID is the immediate parent when replying; zero otherwise.
	ParentID MessageID

	Files []FileUpload
}
