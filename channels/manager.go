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

	"github.com/andres-erbsen/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	jww "github.com/spf13/jwalterweatherman"
)

// Dependencies are the external collaborators of the Manager.
type Dependencies struct {
	// Fetcher loads history pages. Required.
	Fetcher Fetcher

	// Live is the live channel connection. Required.
	Live LiveChannel

	// Files uploads attachments. Sending a draft with files fails without it.
	Files FileStore

	// Identity supplies the current user. Required.
	Identity Identity

	// Events receives state changes. Optional.
	Events EventModel

	// Registerer registers the manager's metrics. Optional.
	Registerer prometheus.Registerer

	// Clock drives typing timers and pending message timestamps. Defaults to
	// the wall clock.
	Clock clock.Clock
}

type manager struct {
	params   Params
	identity Identity
	events   EventModel
	metrics  *metrics

	cache     *PageCache
	sends     *sendTracker
	reactions *reactionAggregator
	typing    *typingTracker
	router    *roomRouter

	// switchMux serialises channel switches.
	switchMux sync.Mutex

	active    *Channel
	activeMux sync.RWMutex
}

// NewManager builds the channel messaging engine from its collaborators.
func NewManager(params Params, deps Dependencies) (Manager, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("a history fetcher is required")
	case deps.Live == nil:
		return nil, errors.New("a live channel is required")
	case deps.Identity == nil:
		return nil, errors.New("an identity is required")
	case params.PageSize <= 0:
		return nil, errors.Errorf("invalid page size %d", params.PageSize)
	}
	if deps.Events == nil {
		deps.Events = nopEventModel{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	m := &manager{
		params:   params,
		identity: deps.Identity,
		events:   deps.Events,
		metrics:  newMetrics(deps.Registerer),
	}
	m.cache = newPageCache(deps.Fetcher, params, m.metrics)
	m.sends = newSendTracker(m.cache, deps.Live, deps.Files, deps.Identity,
		deps.Events, m.metrics, deps.Clock, params.SendTimeout)
	m.reactions = newReactionAggregator(m.cache, deps.Live, deps.Identity)
	m.typing = newTypingTracker(
		deps.Live, deps.Identity, deps.Events, deps.Clock, params)
	m.router = newRoomRouter(deps.Live, m.cache, m.sends, m.reactions,
		m.typing, deps.Events, m.metrics)

	jww.DEBUG.Printf("[CH] Created channel manager for user %s",
		deps.Identity.UserID())
	return m, nil
}

// SwitchChannel leaves the active channel, if any, and makes the given channel
// the active one. The first page is loaded once the switch completes. If
// another switch supersedes this one before the page arrives, the page is
// discarded and no error is returned.
func (m *manager) SwitchChannel(ctx context.Context, channel Channel) error {
	m.switchMux.Lock()
	if previous, exists := m.ActiveChannel(); exists {
		m.leave(ctx, previous)
	}

	m.cache.Reset(channel.ID)
	m.reactions.Reset(channel.ID)
	if err := m.router.Join(ctx, channel); err != nil {
		m.switchMux.Unlock()
		return err
	}

	m.activeMux.Lock()
	m.active = &channel
	m.activeMux.Unlock()
	m.switchMux.Unlock()

	m.events.JoinChannel(channel)

	_, err := m.LoadOlder(ctx, channel.ID)
	if errors.Is(err, ChannelResetErr) || errors.Is(err, ChannelNotJoinedErr) {
		jww.DEBUG.Printf("[CH] Switch to channel %d was superseded before "+
			"its history loaded", channel.ID)
		return nil
	}
	return err
}

// LeaveChannel leaves the active channel.
func (m *manager) LeaveChannel(ctx context.Context) error {
	m.switchMux.Lock()
	defer m.switchMux.Unlock()

	active, exists := m.ActiveChannel()
	if !exists {
		return nil
	}
	m.leave(ctx, active)
	return nil
}

// leave unsubscribes from the channel's room and clears all of its state. A
// failure to unsubscribe is logged; the subscription is dropped locally
// regardless.
func (m *manager) leave(ctx context.Context, channel Channel) {
	m.typing.Reset(ctx, channel.ID)
	if err := m.router.Leave(ctx, channel.ID); err != nil {
		jww.WARN.Printf("[CH] %+v", err)
	}
	m.cache.Reset(channel.ID)
	m.reactions.Reset(channel.ID)

	m.activeMux.Lock()
	if m.active != nil && m.active.ID == channel.ID {
		m.active = nil
	}
	m.activeMux.Unlock()
	m.events.LeaveChannel(channel.ID)
}

func (m *manager) ActiveChannel() (Channel, bool) {
	m.activeMux.RLock()
	defer m.activeMux.RUnlock()
	if m.active == nil {
		return Channel{}, false
	}
	return *m.active, true
}

func (m *manager) LoadOlder(ctx context.Context, channelID ChannelID) (
	Page, error) {
	if !m.router.IsSubscribed(channelID) {
		return Page{}, errors.WithStack(ChannelNotJoinedErr)
	}

	page, generation, err := m.cache.loadOlder(ctx, channelID)
	if err != nil {
		return Page{}, err
	} else if generation == 0 {
		// Another call issued the fetch and reports its messages
		return page, nil
	}

	current := false
	m.router.whileSubscribed(channelID, func() {
		if current = m.cache.isCurrent(channelID, generation); !current {
			return
		}
		for _, msg := range page.Messages {
			if msg.Pending || msg.ID <= 0 {
				continue
			}
			m.reactions.Seed(channelID, msg.ID, msg.Reactions)
			msg = confirmedCopy(msg, channelID)
			m.events.ReceiveMessage(msg)
		}
	})
	if !current {
		jww.WARN.Printf("[CH] Discarding history page of channel %d that was "+
			"left while it loaded", channelID)
		m.metrics.staleEvents.WithLabelValues("history").Inc()
		return Page{}, errors.WithStack(ChannelResetErr)
	}
	return page, nil
}

func (m *manager) View(channelID ChannelID) []Message {
	view := m.cache.View(channelID)
	m.reactions.Decorate(channelID, view)
	return view
}

func (m *manager) Threads(channelID ChannelID) Thread {
	t, anomalies := ResolveThreads(m.View(channelID))
	if anomalies.Cycles > 0 {
		m.metrics.threadAnomalies.WithLabelValues("cycle").Add(
			float64(anomalies.Cycles))
	}
	if anomalies.Orphans > 0 {
		m.metrics.threadAnomalies.WithLabelValues("orphan").Add(
			float64(anomalies.Orphans))
	}
	return t
}

func (m *manager) SendMessage(ctx context.Context, channelID ChannelID,
	draft Draft, done SendCallback) (TempID, error) {
	if !m.router.IsSubscribed(channelID) {
		return 0, errors.WithStack(ChannelNotJoinedErr)
	}

	pending, err := m.sends.begin(channelID, draft)
	if err != nil {
		return 0, err
	}

	go func() {
		msg, err := m.sends.complete(ctx, pending, draft)
		if done != nil {
			done(pending.TempID, msg, err)
		}
	}()
	return pending.TempID, nil
}

func (m *manager) ToggleReaction(ctx context.Context, channelID ChannelID,
	messageID MessageID, emoji string) error {
	if !m.router.IsSubscribed(channelID) {
		return errors.WithStack(ChannelNotJoinedErr)
	}

	groups, err := m.reactions.Toggle(ctx, channelID, messageID, emoji)
	if err == nil || IsRetryable(err) {
		m.events.UpdateReactions(channelID, messageID, groups)
	}
	return err
}

func (m *manager) OnLocalInput(ctx context.Context, channelID ChannelID) {
	if !m.router.IsSubscribed(channelID) {
		jww.TRACE.Printf("[CH] Ignoring input in channel %d that is not "+
			"joined", channelID)
		return
	}
	m.typing.OnLocalInput(ctx, channelID)
}

func (m *manager) TypingIndicator(channelID ChannelID) (string, bool) {
	return m.typing.Indicator(channelID)
}
