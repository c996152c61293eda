////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// ChannelID identifies a channel. Channels are independent message spaces.
type ChannelID int64

// MessageID is the identifier assigned to a message by the server. Server IDs
// are always positive; zero means "no message".
type MessageID int64

// TempID is a locally generated identifier for a message that has not been
// confirmed by the server. Temp IDs are always negative so they can never
// collide with a MessageID.
type TempID int64

// UserID identifies a user.
type UserID string

// String returns the decimal form of the channel ID.
func (c ChannelID) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// Channel describes a channel the user can join.
type Channel struct {
	ID        ChannelID `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"isPrivate"`
}

// Room returns the name of the room on the live connection that carries the
// events of the channel.
func (c Channel) Room() string {
	return RoomName(c.ID)
}

// RoomName returns the live connection room for the given channel.
func RoomName(channelID ChannelID) string {
	return "channel:" + channelID.String()
}

// Attachment is a stable file reference returned by the file store.
type Attachment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Message is a single channel message, either confirmed by the server or
// pending (optimistically shown before the server acknowledged it).
type Message struct {
	// ID is zero while the message is pending.
	ID MessageID `json:"id"`

	// TempID is set only while the message is pending. It is never sent to
	// other consumers as a real ID.
	TempID TempID `json:"-"`

	ChannelID  ChannelID `json:"channelId"`
	AuthorID   UserID    `json:"userId"`
	AuthorName string    `json:"userName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`

	// ParentID is the immediate parent of a reply. Zero for a root message.
	ParentID MessageID `json:"parentId,omitempty"`

	Attachments []Attachment    `json:"files,omitempty"`
	Reactions   []ReactionGroup `json:"reactions,omitempty"`

	Pending bool `json:"-"`

	// ClientTempID is the correlation token echoed back by servers that
	// support it on the newMessage broadcast.
	ClientTempID TempID `json:"clientTempId,omitempty"`
}

// Key returns the key that identifies the message in a channel view: the
// confirmed ID, or the temp ID while the message is pending.
func (m Message) Key() int64 {
	if m.Pending {
		return int64(m.TempID)
	}
	return int64(m.ID)
}

// IsReply returns true if the message has an immediate parent.
func (m Message) IsReply() bool {
	return m.ParentID != 0
}

// copy returns a deep copy of the message so callers can never mutate cached
// state through a returned view.
func (m Message) copy() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		groups := make([]ReactionGroup, len(m.Reactions))
		for i := range m.Reactions {
			groups[i] = m.Reactions[i].copy()
		}
		m.Reactions = groups
	}
	return m
}

// ReactionGroup is the aggregate of one emoji on one message. The count is
// never stored; it is always the size of the reactor set.
type ReactionGroup struct {
	Emoji      string   `json:"emoji"`
	ReactorIDs []UserID `json:"userIds"`

	// ReactedByCurrentUser is derived when the group is decorated for the
	// local user.
	ReactedByCurrentUser bool `json:"meReacted"`
}

// Count returns the number of users who reacted with the emoji.
func (rg ReactionGroup) Count() int {
	return len(rg.ReactorIDs)
}

// HasReactor returns true if the user is in the reactor set.
func (rg ReactionGroup) HasReactor(user UserID) bool {
	i := sort.Search(len(rg.ReactorIDs), func(i int) bool {
		return rg.ReactorIDs[i] >= user
	})
	return i < len(rg.ReactorIDs) && rg.ReactorIDs[i] == user
}

func (rg ReactionGroup) copy() ReactionGroup {
	rg.ReactorIDs = append([]UserID(nil), rg.ReactorIDs...)
	return rg
}

// withReactor returns a copy of the group with the user added to the set.
func (rg ReactionGroup) withReactor(user UserID) ReactionGroup {
	if rg.HasReactor(user) {
		return rg.copy()
	}
	rg.ReactorIDs = normalizeReactors(append(
		append([]UserID(nil), rg.ReactorIDs...), user))
	return rg
}

// withoutReactor returns a copy of the group with the user removed from the
// set.
func (rg ReactionGroup) withoutReactor(user UserID) ReactionGroup {
	reactors := make([]UserID, 0, len(rg.ReactorIDs))
	for _, r := range rg.ReactorIDs {
		if r != user {
			reactors = append(reactors, r)
		}
	}
	rg.ReactorIDs = reactors
	return rg
}

// reactionGroupJSON is the wire form of a ReactionGroup. The count is written
// for consumers that display it but never read back.
type reactionGroupJSON struct {
	Emoji     string   `json:"emoji"`
	ReactorID []UserID `json:"userIds"`
	Count     int      `json:"count"`
	MeReacted bool     `json:"meReacted,omitempty"`
}

// MarshalJSON adheres to the json.Marshaler interface.
func (rg ReactionGroup) MarshalJSON() ([]byte, error) {
	reactors := rg.ReactorIDs
	if reactors == nil {
		reactors = []UserID{}
	}
	return json.Marshal(reactionGroupJSON{
		Emoji:     rg.Emoji,
		ReactorID: reactors,
		Count:     len(reactors),
		MeReacted: rg.ReactedByCurrentUser,
	})
}

// UnmarshalJSON adheres to the json.Unmarshaler interface. Any count on the
// wire is ignored and the reactor set is normalised.
func (rg *ReactionGroup) UnmarshalJSON(data []byte) error {
	var wire reactionGroupJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	rg.Emoji = wire.Emoji
	rg.ReactorIDs = normalizeReactors(wire.ReactorID)
	rg.ReactedByCurrentUser = wire.MeReacted
	return nil
}

// normalizeReactors sorts the reactor list and removes duplicates and empty
// IDs so it can be treated as a set.
func normalizeReactors(reactors []UserID) []UserID {
	out := make([]UserID, 0, len(reactors))
	for _, r := range reactors {
		if r != "" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	unique := out[:0]
	for _, r := range out {
		if len(unique) == 0 || r != unique[len(unique)-1] {
			unique = append(unique, r)
		}
	}
	return unique
}

// Page is a fetched slice of a channel's history.
type Page struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor MessageID `json:"nextCursor,omitempty"`

	// Local is set when the page was served from a local mirror instead of
	// the server. It may be missing messages, so its HasMore never ends the
	// channel's history.
	Local bool `json:"-"`
}
