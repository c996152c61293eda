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
	"time"

	"github.com/andres-erbsen/clock"
	jww "github.com/spf13/jwalterweatherman"
)

// typingTracker debounces the local user's typing signal and holds the remote
// typing indicator of each channel. State is in memory only.
//
// Each channel shows a single remote typist; the last event received wins,
// including one that clears the indicator.
type typingTracker struct {
	live     LiveChannel
	identity Identity
	events   EventModel
	clock    clock.Clock

	window time.Duration
	expiry time.Duration

	local  map[ChannelID]*typingSlot
	remote map[ChannelID]*typingSlot

	// lastSeq tags every timer so a timer that fires after it was replaced
	// or stopped is ignored.
	lastSeq uint64

	mux sync.Mutex
}

type typingSlot struct {
	userName string
	timer    *clock.Timer
	seq      uint64
}

func newTypingTracker(live LiveChannel, identity Identity, events EventModel,
	clk clock.Clock, params Params) *typingTracker {
	return &typingTracker{
		live:     live,
		identity: identity,
		events:   events,
		clock:    clk,
		window:   params.TypingWindow,
		expiry:   params.RemoteTypingExpiry,
		local:    make(map[ChannelID]*typingSlot),
		remote:   make(map[ChannelID]*typingSlot),
	}
}

// OnLocalInput records a keystroke of the local user in the channel. The
// first input of a burst emits typing=true; every input restarts the
// window, and typing=false is emitted once it elapses with no further input.
func (tt *typingTracker) OnLocalInput(ctx context.Context, channelID ChannelID) {
	tt.mux.Lock()
	slot, typing := tt.local[channelID]
	if typing {
		slot.timer.Stop()
	} else {
		slot = &typingSlot{userName: tt.identity.DisplayName()}
		tt.local[channelID] = slot
	}
	tt.lastSeq++
	seq := tt.lastSeq
	slot.seq = seq
	slot.timer = tt.clock.AfterFunc(tt.window, func() {
		tt.localElapsed(channelID, seq)
	})
	tt.mux.Unlock()

	if !typing {
		tt.emit(ctx, channelID, true)
	}
}

func (tt *typingTracker) localElapsed(channelID ChannelID, seq uint64) {
	tt.mux.Lock()
	slot, exists := tt.local[channelID]
	if !exists || slot.seq != seq {
		tt.mux.Unlock()
		return
	}
	delete(tt.local, channelID)
	tt.mux.Unlock()

	tt.emit(context.Background(), channelID, false)
}

func (tt *typingTracker) emit(
	ctx context.Context, channelID ChannelID, isTyping bool) {
	err := tt.live.Typing(ctx, TypingSignal{
		Room:     RoomName(channelID),
		IsTyping: isTyping,
		UserName: tt.identity.DisplayName(),
	})
	if err != nil {
		jww.WARN.Printf("[CH] Failed to send typing=%t in channel %d: %+v",
			isTyping, channelID, err)
	}
}

// OnRemoteEvent sets or clears the channel's remote typing indicator. The
// server does not echo the local user's own events. An indicator that
// receives no follow-up expires on its own.
func (tt *typingTracker) OnRemoteEvent(
	channelID ChannelID, userName string, isTyping bool) {
	tt.mux.Lock()
	slot, exists := tt.remote[channelID]
	if exists {
		slot.timer.Stop()
	}
	if !isTyping {
		delete(tt.remote, channelID)
		tt.mux.Unlock()
		if exists {
			tt.events.UpdateTyping(channelID, "", false)
		}
		return
	}

	tt.lastSeq++
	seq := tt.lastSeq
	tt.remote[channelID] = &typingSlot{
		userName: userName,
		seq:      seq,
		timer: tt.clock.AfterFunc(tt.expiry, func() {
			tt.remoteExpired(channelID, seq)
		}),
	}
	tt.mux.Unlock()

	tt.events.UpdateTyping(channelID, userName, true)
}

func (tt *typingTracker) remoteExpired(channelID ChannelID, seq uint64) {
	tt.mux.Lock()
	slot, exists := tt.remote[channelID]
	if !exists || slot.seq != seq {
		tt.mux.Unlock()
		return
	}
	delete(tt.remote, channelID)
	tt.mux.Unlock()

	jww.TRACE.Printf("[CH] Typing indicator of %s in channel %d expired",
		slot.userName, channelID)
	tt.events.UpdateTyping(channelID, "", false)
}

// Indicator returns the name of the remote user shown as typing in the
// channel.
func (tt *typingTracker) Indicator(channelID ChannelID) (string, bool) {
	tt.mux.Lock()
	defer tt.mux.Unlock()
	if slot, exists := tt.remote[channelID]; exists {
		return slot.userName, true
	}
	return "", false
}

// Reset stops all timers of the channel and clears its indicator. If the
// local user was typing, typing=false is emitted.
func (tt *typingTracker) Reset(ctx context.Context, channelID ChannelID) {
	tt.mux.Lock()
	local, localTyping := tt.local[channelID]
	if localTyping {
		local.timer.Stop()
		delete(tt.local, channelID)
	}
	remote, remoteTyping := tt.remote[channelID]
	if remoteTyping {
		remote.timer.Stop()
		delete(tt.remote, channelID)
	}
	tt.mux.Unlock()

	if localTyping {
		tt.emit(ctx, channelID, false)
	}
	if remoteTyping {
		tt.events.UpdateTyping(channelID, "", false)
	}
}
