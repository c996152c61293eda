////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// trackedSend is a local send that has been shown optimistically and not yet
// acknowledged.
type trackedSend struct {
	channelID  ChannelID
	generation uint64
	authorID   UserID
	content    string
	parentID   MessageID

	// echo is the server's broadcast of the message if it arrived before the
	// acknowledgement.
	echo *Message
}

// matches returns true if the broadcast message could be the echo of the
// send. Temp IDs are only unique per client, so the token alone is not enough.
func (ts *trackedSend) matches(channelID ChannelID, msg Message) bool {
	return ts.echo == nil && ts.channelID == channelID &&
		ts.authorID == msg.AuthorID && ts.content == msg.Content &&
		ts.parentID == msg.ParentID
}

// sendTracker shows outgoing messages immediately as pending entries and
// reconciles each one exactly once with the server's confirmed message,
// whichever of the acknowledgement or the broadcast echo arrives first.
//
// Lock order is sendTracker.mux then PageCache.mux; the cache never calls
// back into the tracker.
type sendTracker struct {
	cache    *PageCache
	live     LiveChannel
	files    FileStore
	identity Identity
	events   EventModel
	metrics  *metrics
	clock    clock.Clock
	timeout  time.Duration

	// lastTempID is decremented atomically to produce temp IDs -1, -2, ...
	lastTempID int64

	byTempID map[TempID]*trackedSend
	mux      sync.Mutex
}

func newSendTracker(cache *PageCache, live LiveChannel, files FileStore,
	identity Identity, events EventModel, m *metrics, clk clock.Clock,
	timeout time.Duration) *sendTracker {
	return &sendTracker{
		cache:    cache,
		live:     live,
		files:    files,
		identity: identity,
		events:   events,
		metrics:  m,
		clock:    clk,
		timeout:  timeout,
		byTempID: make(map[TempID]*trackedSend),
	}
}

// Send shows the draft as a pending message and blocks until it is confirmed
// or failed. On success the confirmed message is returned.
func (st *sendTracker) Send(ctx context.Context, channelID ChannelID,
	draft Draft) (Message, error) {
	pending, err := st.begin(channelID, draft)
	if err != nil {
		return Message{}, err
	}
	return st.complete(ctx, pending, draft)
}

// begin validates the draft, inserts it into the channel's view as a pending
// message and starts tracking it.
func (st *sendTracker) begin(channelID ChannelID, draft Draft) (
	Message, error) {
	if isBlank(draft.Content) && len(draft.Files) == 0 {
		return Message{}, errors.WithStack(EmptyMessageErr)
	}
	if draft.ParentID < 0 {
		return Message{}, errors.Wrap(MessagePendingErr,
			"cannot reply to a message before it is confirmed")
	}

	tempID := TempID(atomic.AddInt64(&st.lastTempID, -1))
	pending := Message{
		TempID:     tempID,
		ChannelID:  channelID,
		AuthorID:   st.identity.UserID(),
		AuthorName: st.identity.DisplayName(),
		Content:    draft.Content,
		CreatedAt:  st.clock.Now(),
		ParentID:   draft.ParentID,
		Pending:    true,
	}
	for _, f := range draft.Files {
		pending.Attachments = append(pending.Attachments,
			Attachment{Name: f.Name, Size: int64(len(f.Data))})
	}

	st.mux.Lock()
	generation := st.cache.InsertPending(channelID, pending)
	st.byTempID[tempID] = &trackedSend{
		channelID:  channelID,
		generation: generation,
		authorID:   pending.AuthorID,
		content:    pending.Content,
		parentID:   pending.ParentID,
	}
	st.mux.Unlock()

	jww.DEBUG.Printf("[CH] Sending message %d in channel %d", tempID,
		channelID)
	st.events.UpdateFromTempID(channelID, tempID, pending.copy(), Unsent)
	return pending.copy(), nil
}

// complete uploads the draft's attachments, sends the message and reconciles
// the pending entry with the result.
func (st *sendTracker) complete(ctx context.Context, pending Message,
	draft Draft) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	fileIDs, err := st.upload(ctx, draft.Files)
	if err != nil {
		return st.fail(pending, "upload", err)
	}

	msg, err := st.live.SendMessage(ctx, SendRequest{
		Room:         RoomName(pending.ChannelID),
		Content:      pending.Content,
		UserID:       pending.AuthorID,
		FileIDs:      fileIDs,
		ParentID:     pending.ParentID,
		ClientTempID: pending.TempID,
	})
	if err != nil {
		if IsRejected(err) {
			return st.fail(pending, "rejected", err)
		}
		return st.fail(pending, "transport", retryable("send",
			errors.WithMessagef(err, "failed to send message %d",
				pending.TempID)))
	}
	if msg.ID <= 0 {
		return st.fail(pending, "transport", retryable("send", errors.Errorf(
			"acknowledgement of message %d carried no message ID",
			pending.TempID)))
	}
	return st.acknowledge(pending, msg)
}

// upload uploads every file. Either all uploads succeed or the send fails.
func (st *sendTracker) upload(ctx context.Context, files []FileUpload) (
	[]int64, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if st.files == nil {
		return nil, errors.New("no file store to upload attachments to")
	}

	fileIDs := make([]int64, 0, len(files))
	for _, f := range files {
		att, err := st.files.Upload(ctx, f)
		if err != nil {
			return nil, retryable("attachment upload", errors.WithMessagef(
				err, "failed to upload %q", f.Name))
		}
		fileIDs = append(fileIDs, att.ID)
	}
	return fileIDs, nil
}

// acknowledge promotes the pending entry to the acknowledged message. If the
// echo already promoted it, the acknowledged copy is merged idempotently.
func (st *sendTracker) acknowledge(pending Message, msg Message) (
	Message, error) {
	msg = confirmedCopy(msg, pending.ChannelID)

	st.mux.Lock()
	ts, exists := st.byTempID[pending.TempID]
	delete(st.byTempID, pending.TempID)
	if !exists {
		st.mux.Unlock()
		return msg, nil
	}
	promoted := st.cache.Promote(ts.channelID, ts.generation, pending.TempID,
		msg)
	st.mux.Unlock()

	if !promoted {
		jww.WARN.Printf("[CH] Dropping acknowledgement of message %d (%d) "+
			"because channel %d was reset", pending.TempID, msg.ID,
			ts.channelID)
		st.metrics.staleEvents.WithLabelValues("ack").Inc()
		return msg, nil
	}

	if ts.echo == nil {
		jww.DEBUG.Printf("[CH] Message %d in channel %d confirmed as %d",
			pending.TempID, ts.channelID, msg.ID)
		st.metrics.sendsConfirmed.WithLabelValues("ack").Inc()
		st.events.UpdateFromTempID(ts.channelID, pending.TempID, msg.copy(),
			Sent)
	}
	return msg, nil
}

// fail removes the pending entry and reports the failure. If the echo already
// confirmed the message, the send succeeded despite the error and the echoed
// message is returned.
func (st *sendTracker) fail(pending Message, reason string, err error) (
	Message, error) {
	st.mux.Lock()
	ts, exists := st.byTempID[pending.TempID]
	delete(st.byTempID, pending.TempID)
	if exists && ts.echo != nil {
		st.mux.Unlock()
		jww.WARN.Printf("[CH] Send of message %d failed after its broadcast "+
			"was received: %+v", pending.TempID, err)
		return ts.echo.copy(), nil
	}
	if exists {
		st.cache.RemovePending(ts.channelID, ts.generation, pending.TempID)
	}
	st.mux.Unlock()

	jww.ERROR.Printf("[CH] Failed to send message %d in channel %d: %+v",
		pending.TempID, pending.ChannelID, err)
	st.metrics.sendsFailed.WithLabelValues(reason).Inc()
	st.events.UpdateFromTempID(pending.ChannelID, pending.TempID,
		pending.copy(), Failed)
	return Message{}, err
}

// ReconcileEcho checks if a message broadcast on the live channel is the echo
// of a tracked local send and, if so, promotes the pending entry in place.
// The echo is matched by its client temp ID or, if the server did not echo
// it, with the oldest tracked send by the same author with the same content
// and parent. Returns true if the echo was consumed.
func (st *sendTracker) ReconcileEcho(channelID ChannelID, msg Message) bool {
	if msg.ID <= 0 {
		return false
	}
	msg = confirmedCopy(msg, channelID)

	st.mux.Lock()
	if _, exists := st.cache.Get(channelID, msg.ID); exists {
		st.mux.Unlock()
		return false
	}

	tempID, ts := st.matchUnsafe(channelID, msg)
	if ts == nil {
		st.mux.Unlock()
		return false
	}
	if !st.cache.Promote(channelID, ts.generation, tempID, msg) {
		st.mux.Unlock()
		return false
	}
	echo := msg.copy()
	ts.echo = &echo
	st.mux.Unlock()

	jww.DEBUG.Printf("[CH] Message %d in channel %d confirmed as %d by its "+
		"broadcast", tempID, channelID, msg.ID)
	st.metrics.sendsConfirmed.WithLabelValues("echo").Inc()
	st.events.UpdateFromTempID(channelID, tempID, msg.copy(), Delivered)
	return true
}

// matchUnsafe finds the tracked send that the broadcast message is the echo
// of. It must be called with the lock held.
func (st *sendTracker) matchUnsafe(channelID ChannelID, msg Message) (
	TempID, *trackedSend) {
	if msg.ClientTempID < 0 {
		ts, exists := st.byTempID[msg.ClientTempID]
		if exists && ts.matches(channelID, msg) {
			return msg.ClientTempID, ts
		}
		return 0, nil
	}

	var oldestID TempID
	var oldest *trackedSend
	for tempID, ts := range st.byTempID {
		if !ts.matches(channelID, msg) {
			continue
		}
		// Temp IDs decrease, so the oldest send has the largest one
		if oldest == nil || tempID > oldestID {
			oldestID, oldest = tempID, ts
		}
	}
	return oldestID, oldest
}

var markupTag = regexp.MustCompile(`<[^>]*>`)

// isBlank returns true if the content has no visible text once markup tags
// and non-breaking spaces are removed.
func isBlank(content string) bool {
	text := markupTag.ReplaceAllString(content, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	return strings.TrimSpace(text) == ""
}
