////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"gitlab.com/elite-erp/chatcore/emoji"
)

func newTestAggregator(live LiveChannel) (*reactionAggregator, *PageCache) {
	pc := newTestPageCache(&mockFetcher{})
	pc.Merge(1, []Message{newTestMessage(9, 1)})
	return newReactionAggregator(pc, live, testIdentity), pc
}

// Tests that toggling adds then removes the current user's reaction and emits
// the matching intents.
func TestReactionAggregator_Toggle(t *testing.T) {
	live := newMockLive()
	ra, _ := newTestAggregator(live)
	ctx := context.Background()

	groups, err := ra.Toggle(ctx, 1, 9, "👍")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []UserID{"me"}, groups[0].ReactorIDs)
	require.True(t, groups[0].ReactedByCurrentUser)

	groups, err = ra.Toggle(ctx, 1, 9, "👍")
	require.NoError(t, err)
	require.Empty(t, groups)

	require.Len(t, live.intents, 2)
	require.Equal(t, ReactionIntent{Room: "channel:1", MessageID: 9,
		UserID: "me", Emoji: "👍", Action: ReactionAdd}, live.intents[0])
	require.Equal(t, ReactionRemove, live.intents[1].Action)
}

// Tests that reacting to a pending or unknown message, or with an invalid
// reaction, fails without emitting anything.
func TestReactionAggregator_Toggle_Invalid(t *testing.T) {
	live := newMockLive()
	ra, _ := newTestAggregator(live)
	ctx := context.Background()

	_, err := ra.Toggle(ctx, 1, -1, "👍")
	require.ErrorIs(t, err, MessagePendingErr)

	_, err = ra.Toggle(ctx, 1, 10, "👍")
	require.ErrorIs(t, err, MessageNotFoundErr)

	_, err = ra.Toggle(ctx, 1, 9, "👍👍")
	require.ErrorIs(t, err, emoji.InvalidReaction)

	require.Empty(t, live.intents)
}

// Tests that a failed emit rolls the optimistic guess back.
func TestReactionAggregator_Toggle_Rollback(t *testing.T) {
	live := newMockLive()
	live.react = func(context.Context, ReactionIntent) error {
		return errors.New("disconnected")
	}
	ra, _ := newTestAggregator(live)
	ra.ApplyCanonical(1, 9, []ReactionGroup{{Emoji: "❤️",
		ReactorIDs: []UserID{"other"}}})

	groups, err := ra.Toggle(context.Background(), 1, 9, "❤️")
	require.True(t, IsRetryable(err), "Error is not retryable: %+v", err)
	require.Len(t, groups, 1)
	require.Equal(t, []UserID{"other"}, groups[0].ReactorIDs)
	require.False(t, groups[0].ReactedByCurrentUser)
}

// Tests that a canonical snapshot received while the emit is in flight is not
// overwritten by the rollback.
func TestReactionAggregator_Toggle_RollbackKeepsCanonical(t *testing.T) {
	live := newMockLive()
	ra, _ := newTestAggregator(live)
	live.react = func(context.Context, ReactionIntent) error {
		ra.ApplyCanonical(1, 9, []ReactionGroup{{Emoji: "😂",
			ReactorIDs: []UserID{"other"}}})
		return errors.New("disconnected")
	}

	groups, err := ra.Toggle(context.Background(), 1, 9, "👍")
	require.Error(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "😂", groups[0].Emoji)
}

// Tests that a canonical update that raced an optimistic add off leaves the
// emoji absent, not a phantom count of one.
func TestReactionAggregator_CanonicalRace(t *testing.T) {
	ra, _ := newTestAggregator(newMockLive())

	_, err := ra.Toggle(context.Background(), 1, 9, "👍")
	require.NoError(t, err)

	groups := ra.ApplyCanonical(1, 9,
		[]ReactionGroup{{Emoji: "👍", ReactorIDs: []UserID{}}})
	require.Empty(t, groups)

	view := []Message{newTestMessage(9, 1)}
	ra.Decorate(1, view)
	require.Empty(t, view[0].Reactions)
}

// Tests that applying the same snapshot twice leaves the state unchanged and
// that the count always equals the number of reactors.
func TestReactionAggregator_ApplyCanonical_Idempotent(t *testing.T) {
	ra, _ := newTestAggregator(newMockLive())
	snapshot := []ReactionGroup{
		{Emoji: "👍", ReactorIDs: []UserID{"b", "me", "a", "b"}},
		{Emoji: "😮", ReactorIDs: []UserID{"c"}},
		{Emoji: "👍", ReactorIDs: []UserID{"d"}},
	}

	first := ra.ApplyCanonical(1, 9, snapshot)
	second := ra.ApplyCanonical(1, 9, snapshot)
	require.Equal(t, first, second)

	require.Len(t, first, 2)
	require.Equal(t, []UserID{"a", "b", "d", "me"}, first[0].ReactorIDs)
	require.True(t, first[0].ReactedByCurrentUser)
	for _, g := range first {
		require.Equal(t, len(g.ReactorIDs), g.Count())
	}
}

// Tests that seeding never overwrites existing state.
func TestReactionAggregator_Seed(t *testing.T) {
	ra, _ := newTestAggregator(newMockLive())

	require.False(t, ra.Seed(1, 9, nil))
	require.True(t, ra.Seed(1, 9, []ReactionGroup{{Emoji: "😢",
		ReactorIDs: []UserID{"a"}}}))
	require.False(t, ra.Seed(1, 9, []ReactionGroup{{Emoji: "😡",
		ReactorIDs: []UserID{"a"}}}))

	view := []Message{newTestMessage(9, 1)}
	ra.Decorate(1, view)
	require.Len(t, view[0].Reactions, 1)
	require.Equal(t, "😢", view[0].Reactions[0].Emoji)

	ra.Reset(1)
	ra.Decorate(1, view)
	require.Empty(t, view[0].Reactions)
}
