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
)

// roomRouter is the only component that subscribes to rooms on the live
// channel. It routes each inbound event of a subscribed room to the component
// that owns the state it affects.
//
// Every subscription is tagged with a generation. An event delivered to the
// handler of a subscription that has since been left or replaced is dropped.
// An event is checked and routed under routeMux held for reading; changing a
// subscription takes it for writing, so no event is routed into a channel once
// it has been left.
type roomRouter struct {
	live      LiveChannel
	cache     *PageCache
	sends     *sendTracker
	reactions *reactionAggregator
	typing    *typingTracker
	events    EventModel
	metrics   *metrics

	subscriptions  map[ChannelID]uint64
	lastGeneration uint64
	mux            sync.Mutex

	routeMux sync.RWMutex
}

func newRoomRouter(live LiveChannel, cache *PageCache, sends *sendTracker,
	reactions *reactionAggregator, typing *typingTracker, events EventModel,
	m *metrics) *roomRouter {
	return &roomRouter{
		live:          live,
		cache:         cache,
		sends:         sends,
		reactions:     reactions,
		typing:        typing,
		events:        events,
		metrics:       m,
		subscriptions: make(map[ChannelID]uint64),
	}
}

// Join subscribes to the channel's room under a new generation. Resetting the
// channel's cached state is the caller's responsibility.
func (rr *roomRouter) Join(ctx context.Context, channel Channel) error {
	rr.routeMux.Lock()
	rr.mux.Lock()
	rr.lastGeneration++
	generation := rr.lastGeneration
	rr.subscriptions[channel.ID] = generation
	rr.mux.Unlock()
	rr.routeMux.Unlock()

	handler := func(ev InboundEvent) {
		rr.dispatch(channel.ID, generation, ev)
	}
	if err := rr.live.JoinRoom(ctx, channel.Room(), handler); err != nil {
		rr.mux.Lock()
		if rr.subscriptions[channel.ID] == generation {
			delete(rr.subscriptions, channel.ID)
		}
		rr.mux.Unlock()
		return retryable("join", errors.WithMessagef(err,
			"failed to join room %s", channel.Room()))
	}

	jww.INFO.Printf("[CH] Joined room %s", channel.Room())
	return nil
}

// Leave drops the channel's subscription. It waits for an event of the
// channel that is being routed; events for it that are still in flight are
// dropped from this point on, even if unsubscribing from the room fails.
func (rr *roomRouter) Leave(ctx context.Context, channelID ChannelID) error {
	rr.routeMux.Lock()
	rr.mux.Lock()
	_, exists := rr.subscriptions[channelID]
	delete(rr.subscriptions, channelID)
	rr.mux.Unlock()
	rr.routeMux.Unlock()

	if !exists {
		return nil
	}

	room := RoomName(channelID)
	if err := rr.live.LeaveRoom(ctx, room); err != nil {
		return errors.WithMessagef(err, "failed to leave room %s", room)
	}
	jww.INFO.Printf("[CH] Left room %s", room)
	return nil
}

// IsSubscribed returns true if the channel's room is currently joined.
func (rr *roomRouter) IsSubscribed(channelID ChannelID) bool {
	rr.mux.Lock()
	defer rr.mux.Unlock()
	_, exists := rr.subscriptions[channelID]
	return exists
}

func (rr *roomRouter) current(channelID ChannelID, generation uint64) bool {
	rr.mux.Lock()
	defer rr.mux.Unlock()
	current, exists := rr.subscriptions[channelID]
	return exists && current == generation
}

// whileSubscribed calls f if the channel is subscribed. The subscription
// cannot be left while f runs.
func (rr *roomRouter) whileSubscribed(channelID ChannelID, f func()) {
	rr.routeMux.RLock()
	defer rr.routeMux.RUnlock()
	if rr.IsSubscribed(channelID) {
		f()
	}
}

func (rr *roomRouter) dispatch(
	channelID ChannelID, generation uint64, ev InboundEvent) {
	rr.routeMux.RLock()
	defer rr.routeMux.RUnlock()

	if !rr.current(channelID, generation) {
		jww.WARN.Printf("[CH] Dropping %s event for channel %d from a "+
			"subscription that was left", ev.Type, channelID)
		rr.metrics.staleEvents.WithLabelValues("live").Inc()
		return
	}

	jww.TRACE.Printf("[CH] Dispatching %s event in channel %d", ev.Type,
		channelID)

	switch {
	case ev.Type == NewMessageEvent && ev.Message != nil:
		rr.onMessage(channelID, *ev.Message)
	case ev.Type == ReactionUpdatedEvent && ev.Reaction != nil:
		if ev.Broadcast && !rr.holds(channelID, ev.Reaction.MessageID) {
			jww.TRACE.Printf("[CH] Ignoring reaction update of message %d "+
				"not in channel %d", ev.Reaction.MessageID, channelID)
			return
		}
		rr.onReaction(channelID, *ev.Reaction)
	case ev.Type == TypingEvent && ev.Typing != nil:
		rr.typing.OnRemoteEvent(
			channelID, ev.Typing.UserName, ev.Typing.IsTyping)
	default:
		jww.WARN.Printf("[CH] Dropping malformed %s event in channel %d",
			ev.Type, channelID)
	}
}

// holds returns true if the confirmed message is in the channel's view.
func (rr *roomRouter) holds(channelID ChannelID, messageID MessageID) bool {
	_, exists := rr.cache.Get(channelID, messageID)
	return exists
}

func (rr *roomRouter) onMessage(channelID ChannelID, msg Message) {
	if msg.ID <= 0 {
		jww.WARN.Printf("[CH] Dropping message without an ID in channel %d",
			channelID)
		return
	}

	if rr.sends.ReconcileEcho(channelID, msg) {
		rr.reactions.Seed(channelID, msg.ID, msg.Reactions)
		return
	}

	for _, m := range rr.cache.Merge(channelID, []Message{msg}) {
		rr.reactions.Seed(channelID, m.ID, msg.Reactions)
		rr.events.ReceiveMessage(m)
	}
}

func (rr *roomRouter) onReaction(channelID ChannelID, update ReactionUpdate) {
	if update.MessageID <= 0 {
		jww.WARN.Printf("[CH] Dropping reaction update without a message "+
			"ID in channel %d", channelID)
		return
	}

	groups := rr.reactions.ApplyCanonical(
		channelID, update.MessageID, update.Reactions)
	rr.events.UpdateReactions(channelID, update.MessageID, groups)
}
