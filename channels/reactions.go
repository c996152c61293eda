////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elite-erp/chatcore/emoji"
)

// reactionAggregator holds the reaction groups of every loaded message. Local
// toggles are applied optimistically; the server's canonical snapshot of a
// message replaces its groups wholesale.
//
// Canonical snapshots carry no sequence number, so the last one received from
// the transport wins.
type reactionAggregator struct {
	cache    *PageCache
	live     LiveChannel
	identity Identity

	// byChannel maps a channel to the reaction groups of its messages. A
	// present but empty entry means the message has no reactions.
	byChannel map[ChannelID]map[MessageID][]ReactionGroup

	mux sync.Mutex
}

func newReactionAggregator(cache *PageCache, live LiveChannel,
	identity Identity) *reactionAggregator {
	return &reactionAggregator{
		cache:     cache,
		live:      live,
		identity:  identity,
		byChannel: make(map[ChannelID]map[MessageID][]ReactionGroup),
	}
}

// Toggle removes the current user's reaction with the emoji from the message
// if present and adds it otherwise. The message must be confirmed and in the
// channel's view. The change is computed from local state
// and visible immediately; the intent is then emitted on the live channel.
//
// If emitting fails and no canonical snapshot replaced the optimistic guess
// in the meantime, the guess is rolled back. Returns the message's groups
// after the operation.
func (ra *reactionAggregator) Toggle(ctx context.Context, channelID ChannelID,
	messageID MessageID, reaction string) ([]ReactionGroup, error) {
	if messageID <= 0 {
		return nil, errors.WithStack(MessagePendingErr)
	}
	if err := emoji.ValidateReaction(reaction); err != nil {
		return nil, err
	}
	if _, exists := ra.cache.Get(channelID, messageID); !exists {
		return nil, errors.WithMessagef(MessageNotFoundErr,
			"cannot react to message %d in channel %d", messageID, channelID)
	}
	me := ra.identity.UserID()

	ra.mux.Lock()
	previous := ra.getUnsafe(channelID, messageID)
	optimistic, action := toggleGroup(previous, reaction, me)
	ra.setUnsafe(channelID, messageID, optimistic)
	ra.mux.Unlock()

	jww.DEBUG.Printf("[CH] Optimistic reaction %s %s on message %d in "+
		"channel %d", action, reaction, messageID, channelID)

	err := ra.live.React(ctx, ReactionIntent{
		Room:      RoomName(channelID),
		MessageID: messageID,
		UserID:    me,
		Emoji:     reaction,
		Action:    action,
	})
	if err == nil {
		return decorateGroups(optimistic, me), nil
	}

	ra.mux.Lock()
	defer ra.mux.Unlock()
	current := ra.getUnsafe(channelID, messageID)
	if equalGroups(current, optimistic) {
		ra.setUnsafe(channelID, messageID, previous)
		current = previous
	}
	return decorateGroups(current, me), retryable("reaction", errors.WithMessagef(err,
		"failed to %s reaction %s on message %d", action, reaction,
		messageID))
}

// ApplyCanonical replaces the message's reaction state with the server's
// snapshot. It is idempotent: applying the same snapshot twice changes
// nothing. Returns the normalised groups decorated for the current user.
func (ra *reactionAggregator) ApplyCanonical(channelID ChannelID,
	messageID MessageID, groups []ReactionGroup) []ReactionGroup {
	canonical := normalizeGroups(groups)

	ra.mux.Lock()
	ra.setUnsafe(channelID, messageID, canonical)
	ra.mux.Unlock()

	return decorateGroups(canonical, ra.identity.UserID())
}

// Seed stores the reaction groups delivered with a message if no state exists
// for it yet, so a history page never overwrites a newer canonical snapshot.
// Returns true if the groups were stored.
func (ra *reactionAggregator) Seed(channelID ChannelID, messageID MessageID,
	groups []ReactionGroup) bool {
	groups = normalizeGroups(groups)
	if len(groups) == 0 {
		return false
	}

	ra.mux.Lock()
	defer ra.mux.Unlock()

	if _, exists := ra.byChannel[channelID][messageID]; exists {
		return false
	}
	ra.setUnsafe(channelID, messageID, groups)
	return true
}

// Decorate sets the reactions of each confirmed message from the stored
// state, deriving whether the current user reacted. The messages are modified
// in place; they must be copies.
func (ra *reactionAggregator) Decorate(channelID ChannelID, msgs []Message) {
	me := ra.identity.UserID()

	ra.mux.Lock()
	defer ra.mux.Unlock()

	messages := ra.byChannel[channelID]
	for i := range msgs {
		if msgs[i].Pending {
			msgs[i].Reactions = nil
			continue
		}
		msgs[i].Reactions = decorateGroups(messages[msgs[i].ID], me)
	}
}

// Reset drops the reaction state of the channel.
func (ra *reactionAggregator) Reset(channelID ChannelID) {
	ra.mux.Lock()
	defer ra.mux.Unlock()
	delete(ra.byChannel, channelID)
}

// getUnsafe returns a copy of the message's groups. It must be called with
// the lock held.
func (ra *reactionAggregator) getUnsafe(
	channelID ChannelID, messageID MessageID) []ReactionGroup {
	return copyGroups(ra.byChannel[channelID][messageID])
}

func (ra *reactionAggregator) setUnsafe(channelID ChannelID,
	messageID MessageID, groups []ReactionGroup) {
	messages, exists := ra.byChannel[channelID]
	if !exists {
		messages = make(map[MessageID][]ReactionGroup)
		ra.byChannel[channelID] = messages
	}
	messages[messageID] = groups
}

// toggleGroup returns new groups with the user's reaction toggled and the
// action that was applied. A group whose count reaches zero is dropped.
func toggleGroup(groups []ReactionGroup, reaction string, user UserID) (
	[]ReactionGroup, ReactionAction) {
	toggled := make([]ReactionGroup, 0, len(groups)+1)
	action := ReactionAdd
	found := false
	for _, g := range groups {
		if g.Emoji != reaction {
			toggled = append(toggled, g.copy())
			continue
		}
		found = true
		if g.HasReactor(user) {
			action = ReactionRemove
			g = g.withoutReactor(user)
			if g.Count() == 0 {
				continue
			}
		} else {
			g = g.withReactor(user)
		}
		toggled = append(toggled, g)
	}

	if !found {
		toggled = append(toggled,
			ReactionGroup{Emoji: reaction, ReactorIDs: []UserID{user}})
	}
	return toggled, action
}

// normalizeGroups merges groups of the same emoji, normalises reactor sets
// and drops empty groups. The derived current-user flag is cleared; it is
// recomputed on decoration.
func normalizeGroups(groups []ReactionGroup) []ReactionGroup {
	index := make(map[string]int, len(groups))
	normalized := make([]ReactionGroup, 0, len(groups))
	for _, g := range groups {
		if g.Emoji == "" {
			continue
		}
		if i, exists := index[g.Emoji]; exists {
			normalized[i].ReactorIDs = append(
				normalized[i].ReactorIDs, g.ReactorIDs...)
			continue
		}
		index[g.Emoji] = len(normalized)
		normalized = append(normalized, ReactionGroup{
			Emoji:      g.Emoji,
			ReactorIDs: append([]UserID(nil), g.ReactorIDs...),
		})
	}

	out := normalized[:0]
	for _, g := range normalized {
		g.ReactorIDs = normalizeReactors(g.ReactorIDs)
		if g.Count() > 0 {
			out = append(out, g)
		}
	}
	return out
}

func copyGroups(groups []ReactionGroup) []ReactionGroup {
	if groups == nil {
		return nil
	}
	out := make([]ReactionGroup, len(groups))
	for i := range groups {
		out[i] = groups[i].copy()
	}
	return out
}

// decorateGroups returns a copy of the groups with the current user flag
// derived from the reactor sets.
func decorateGroups(groups []ReactionGroup, me UserID) []ReactionGroup {
	decorated := copyGroups(groups)
	for i := range decorated {
		decorated[i].ReactedByCurrentUser = decorated[i].HasReactor(me)
	}
	return decorated
}

func equalGroups(a, b []ReactionGroup) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Emoji != b[i].Emoji || a[i].Count() != b[i].Count() {
			return false
		}
		for j := range a[i].ReactorIDs {
			if a[i].ReactorIDs[j] != b[i].ReactorIDs[j] {
				return false
			}
		}
	}
	return true
}
