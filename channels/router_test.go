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
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type routerTester struct {
	router    *roomRouter
	live      *mockLive
	cache     *PageCache
	sends     *sendTracker
	reactions *reactionAggregator
	typing    *typingTracker
	events    *mockEventModel
}

func newRouterTester() *routerTester {
	rt := &routerTester{
		live:   newMockLive(),
		events: newMockEventModel(),
	}
	m := newMetrics(nil)
	clk := clock.NewMock()
	rt.cache = newPageCache(&mockFetcher{}, GetDefaultParams(), m)
	rt.sends = newSendTracker(rt.cache, rt.live, nil, testIdentity, rt.events,
		m, clk, time.Minute)
	rt.reactions = newReactionAggregator(rt.cache, rt.live, testIdentity)
	rt.typing = newTypingTracker(
		rt.live, testIdentity, rt.events, clk, GetDefaultParams())
	rt.router = newRoomRouter(rt.live, rt.cache, rt.sends, rt.reactions,
		rt.typing, rt.events, m)
	return rt
}

func newMessageEvent(msg Message) InboundEvent {
	return InboundEvent{Type: NewMessageEvent, Message: &msg}
}

// Tests that each event type is routed to the component that owns its state.
func TestRoomRouter_Dispatch(t *testing.T) {
	rt := newRouterTester()
	require.NoError(t, rt.router.Join(context.Background(), Channel{ID: 1}))
	require.True(t, rt.router.IsSubscribed(1))

	msg := newTestMessage(9, 1)
	msg.Reactions = []ReactionGroup{{Emoji: "😮", ReactorIDs: []UserID{"x"}}}
	require.True(t, rt.live.deliver("channel:1", newMessageEvent(msg)))
	require.Equal(t, []MessageID{9}, messageIDs(rt.cache.View(1)))
	require.Len(t, rt.events.received, 1)

	view := rt.cache.View(1)
	rt.reactions.Decorate(1, view)
	require.Equal(t, "😮", view[0].Reactions[0].Emoji)

	rt.live.deliver("channel:1", InboundEvent{Type: ReactionUpdatedEvent,
		Reaction: &ReactionUpdate{MessageID: 9, Reactions: []ReactionGroup{
			{Emoji: "👍", ReactorIDs: []UserID{"me", "x"}}}}})
	view = rt.cache.View(1)
	rt.reactions.Decorate(1, view)
	require.Len(t, view[0].Reactions, 1)
	require.Equal(t, "👍", view[0].Reactions[0].Emoji)
	require.True(t, view[0].Reactions[0].ReactedByCurrentUser)
	require.Len(t, rt.events.reactions[9], 1)

	rt.live.deliver("channel:1", InboundEvent{Type: TypingEvent,
		Typing: &TypingSignal{IsTyping: true, UserName: "Alice"}})
	name, typing := rt.typing.Indicator(1)
	require.True(t, typing)
	require.Equal(t, "Alice", name)
}

// Tests that events delivered to the handler of a subscription that was left
// or replaced are dropped.
func TestRoomRouter_StaleGeneration(t *testing.T) {
	rt := newRouterTester()
	ctx := context.Background()

	require.NoError(t, rt.router.Join(ctx, Channel{ID: 1}))
	stale := rt.live.handler("channel:1")
	require.NoError(t, rt.router.Leave(ctx, 1))
	require.False(t, rt.router.IsSubscribed(1))

	stale(newMessageEvent(newTestMessage(1, 1)))
	require.Empty(t, rt.cache.View(1))

	require.NoError(t, rt.router.Join(ctx, Channel{ID: 1}))
	stale(newMessageEvent(newTestMessage(2, 2)))
	stale(InboundEvent{Type: TypingEvent,
		Typing: &TypingSignal{IsTyping: true, UserName: "Alice"}})
	require.Empty(t, rt.cache.View(1))
	_, typing := rt.typing.Indicator(1)
	require.False(t, typing)

	rt.live.deliver("channel:1", newMessageEvent(newTestMessage(3, 3)))
	require.Equal(t, []MessageID{3}, messageIDs(rt.cache.View(1)))
}

// blockingEventModel blocks the first ReceiveMessage until released.
type blockingEventModel struct {
	*mockEventModel
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEventModel) ReceiveMessage(msg Message) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	b.mockEventModel.ReceiveMessage(msg)
}

// Tests that leaving a channel waits for an event that is being routed into
// it, and that the channel's state is not recreated by it afterwards.
func TestRoomRouter_LeaveWaitsForDispatch(t *testing.T) {
	rt := newRouterTester()
	events := &blockingEventModel{mockEventModel: rt.events,
		entered: make(chan struct{}), release: make(chan struct{})}
	rt.router.events = events
	ctx := context.Background()

	require.NoError(t, rt.router.Join(ctx, Channel{ID: 1}))
	handler := rt.live.handler("channel:1")

	dispatched := make(chan struct{})
	go func() {
		handler(newMessageEvent(newTestMessage(1, 1)))
		close(dispatched)
	}()
	<-events.entered

	left := make(chan error, 1)
	go func() {
		err := rt.router.Leave(ctx, 1)
		rt.cache.Reset(1)
		left <- err
	}()
	select {
	case <-left:
		t.Fatal("Leave returned while an event was being routed.")
	case <-time.After(50 * time.Millisecond):
	}

	close(events.release)
	<-dispatched
	require.NoError(t, <-left)
	require.False(t, rt.router.IsSubscribed(1))
	require.Empty(t, rt.cache.View(1))

	handler(newMessageEvent(newTestMessage(2, 2)))
	require.Empty(t, rt.cache.View(1))
	require.Len(t, rt.events.received, 1)
	rt.cache.mux.Lock()
	_, exists := rt.cache.channels[1]
	rt.cache.mux.Unlock()
	require.False(t, exists)
}

// Tests that the echo of a local send is reconciled instead of merged as a
// second copy.
func TestRoomRouter_Echo(t *testing.T) {
	rt := newRouterTester()
	require.NoError(t, rt.router.Join(context.Background(), Channel{ID: 1}))

	_, err := rt.sends.begin(1, Draft{Content: "hi"})
	require.NoError(t, err)

	echo := newTestMessage(501, 1)
	echo.AuthorID = "me"
	echo.Content = "hi"
	rt.live.deliver("channel:1", newMessageEvent(echo))
	rt.live.deliver("channel:1", newMessageEvent(echo))

	view := rt.cache.View(1)
	require.Len(t, view, 1)
	require.Equal(t, MessageID(501), view[0].ID)
	require.False(t, view[0].Pending)
}

// Tests that malformed events are dropped.
func TestRoomRouter_Malformed(t *testing.T) {
	rt := newRouterTester()
	require.NoError(t, rt.router.Join(context.Background(), Channel{ID: 1}))

	rt.live.deliver("channel:1", InboundEvent{Type: NewMessageEvent})
	rt.live.deliver("channel:1", InboundEvent{Type: "presence"})
	rt.live.deliver("channel:1", newMessageEvent(Message{Content: "no id"}))
	rt.live.deliver("channel:1", InboundEvent{Type: ReactionUpdatedEvent,
		Reaction: &ReactionUpdate{}})

	require.Empty(t, rt.cache.View(1))
	require.Empty(t, rt.events.reactions)
}

// Tests that a reaction update broadcast to every room only applies to the
// room holding the message.
func TestRoomRouter_BroadcastReaction(t *testing.T) {
	rt := newRouterTester()
	require.NoError(t, rt.router.Join(context.Background(), Channel{ID: 1}))
	rt.live.deliver("channel:1", newMessageEvent(newTestMessage(9, 1)))

	update := func(messageID MessageID) InboundEvent {
		return InboundEvent{Type: ReactionUpdatedEvent, Broadcast: true,
			Reaction: &ReactionUpdate{MessageID: messageID,
				Reactions: []ReactionGroup{
					{Emoji: "👍", ReactorIDs: []UserID{"me"}}}}}
	}
	rt.live.deliver("channel:1", update(40))
	rt.live.deliver("channel:1", update(9))

	require.NotContains(t, rt.events.reactions, MessageID(40))
	require.Len(t, rt.events.reactions[9], 1)
}

// Tests that a failed join leaves no subscription behind.
func TestRoomRouter_JoinFailure(t *testing.T) {
	rt := newRouterTester()
	rt.live.joinErr = errors.New("not connected")

	err := rt.router.Join(context.Background(), Channel{ID: 1})
	require.True(t, IsRetryable(err), "Error is not retryable: %+v", err)
	require.False(t, rt.router.IsSubscribed(1))
}
