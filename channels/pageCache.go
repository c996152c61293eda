////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// PageCache is the single source of truth for which messages exist in each
// channel and in what order. Every mutation of a channel's messages goes
// through its methods, under one lock, so the dedup and ordering invariants
// hold under interleaved fetch responses, live events and local sends.
//
// Reactions are owned by the reactionAggregator; messages are stored without
// them.
type PageCache struct {
	fetcher  Fetcher
	pageSize int
	timeout  time.Duration
	metrics  *metrics

	channels map[ChannelID]*channelPages

	// lastGeneration is incremented every time a channel entry is created,
	// so an entry created after a reset never shares a generation with the
	// entry it replaced.
	lastGeneration uint64

	mux sync.Mutex
}

// channelPages is the cached state of one channel.
type channelPages struct {
	generation uint64

	// messages is sorted ascending by creation time and holds each confirmed
	// ID at most once.
	messages []Message

	cursor   MessageID
	hasMore  bool
	loaded   bool
	inflight *pageLoad
}

// pageLoad is a history fetch in flight. Callers that arrive while it is in
// flight wait on done and share its result.
type pageLoad struct {
	done   chan struct{}
	page   Page
	err    error
	cancel context.CancelFunc
}

func (pl *pageLoad) wait(ctx context.Context) (Page, error) {
	select {
	case <-pl.done:
		return pl.page, pl.err
	case <-ctx.Done():
		return Page{}, retryable("history fetch", ctx.Err())
	}
}

// NewPageCache returns an empty cache that loads history with the fetcher.
func NewPageCache(fetcher Fetcher, params Params) *PageCache {
	return newPageCache(fetcher, params, newMetrics(nil))
}

func newPageCache(fetcher Fetcher, params Params, m *metrics) *PageCache {
	return &PageCache{
		fetcher:  fetcher,
		pageSize: params.PageSize,
		timeout:  params.FetchTimeout,
		metrics:  m,
		channels: make(map[ChannelID]*channelPages),
	}
}

// getUnsafe returns the entry of the channel, creating it if needed. It must
// be called with the lock held.
func (pc *PageCache) getUnsafe(channelID ChannelID) *channelPages {
	cp, exists := pc.channels[channelID]
	if !exists {
		pc.lastGeneration++
		cp = &channelPages{generation: pc.lastGeneration, hasMore: true}
		pc.channels[channelID] = cp
	}
	return cp
}

// LoadOlder fetches the next page of the channel using the current cursor, or
// the most recent page if nothing has been loaded, and merges it.
//
// A call made while another fetch for the channel is in flight does not
// issue a request; it returns the in-flight result. Once the server reported
// that no older messages exist, an empty page is returned without a request.
// A page served from a local mirror never marks the history as complete.
//
// A failed fetch leaves the cache untouched and returns a RetryableError. A
// fetch whose channel was reset before it completed is discarded and returns
// ChannelResetErr.
func (pc *PageCache) LoadOlder(ctx context.Context, channelID ChannelID) (
	Page, error) {
	page, _, err := pc.loadOlder(ctx, channelID)
	return page, err
}

// loadOlder is LoadOlder that also returns the generation the page was merged
// into. The generation is zero if this call did not issue the fetch.
func (pc *PageCache) loadOlder(ctx context.Context, channelID ChannelID) (
	Page, uint64, error) {
	pc.mux.Lock()
	cp := pc.getUnsafe(channelID)
	if load := cp.inflight; load != nil {
		pc.mux.Unlock()
		jww.TRACE.Printf("[CH] Joining in-flight history fetch for "+
			"channel %d", channelID)
		page, err := load.wait(ctx)
		return page, 0, err
	}
	if cp.loaded && !cp.hasMore {
		pc.mux.Unlock()
		return Page{}, 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, pc.timeout)
	load := &pageLoad{done: make(chan struct{}), cancel: cancel}
	cp.inflight = load
	generation, cursor := cp.generation, cp.cursor
	pc.mux.Unlock()

	jww.DEBUG.Printf("[CH] Fetching history page of channel %d before %d",
		channelID, cursor)
	page, err := pc.fetcher.FetchPage(fetchCtx, channelID, cursor, pc.pageSize)
	cancel()

	pc.mux.Lock()
	defer pc.mux.Unlock()

	current, exists := pc.channels[channelID]
	switch {
	case !exists || current.generation != generation:
		jww.WARN.Printf("[CH] Discarding history page of channel %d that "+
			"arrived after the channel was reset", channelID)
		pc.metrics.staleEvents.WithLabelValues("history").Inc()
		page, err = Page{}, errors.WithStack(ChannelResetErr)
	case err != nil:
		current.inflight = nil
		pc.metrics.fetchesFailed.Inc()
		page, err = Page{}, retryable("history fetch", errors.WithMessagef(err,
			"failed to fetch history of channel %d", channelID))
	default:
		current.inflight = nil
		pc.mergeUnsafe(current, channelID, page.Messages)
		current.loaded = true
		if !page.Local {
			current.hasMore = page.HasMore
		}
		if next := nextCursor(page); next != 0 {
			current.cursor = next
		}
	}

	load.page, load.err = page, err
	close(load.done)
	if err != nil {
		return page, 0, err
	}
	return page, generation, nil
}

// nextCursor returns the cursor of the page older than the given one. If the
// server did not return one, the oldest ID of the page is used.
func nextCursor(page Page) MessageID {
	if page.NextCursor != 0 {
		return page.NextCursor
	}
	var oldest MessageID
	for _, m := range page.Messages {
		if m.ID > 0 && (oldest == 0 || m.ID < oldest) {
			oldest = m.ID
		}
	}
	return oldest
}

// Merge inserts or updates confirmed messages by ID and re-sorts the channel.
// It is idempotent and safe to call with overlapping data. Pending messages
// and messages addressed to another channel are ignored.
//
// Returns copies of the messages that were accepted.
func (pc *PageCache) Merge(channelID ChannelID, incoming []Message) []Message {
	pc.mux.Lock()
	defer pc.mux.Unlock()
	return pc.mergeUnsafe(pc.getUnsafe(channelID), channelID, incoming)
}

func (pc *PageCache) mergeUnsafe(cp *channelPages, channelID ChannelID,
	incoming []Message) []Message {
	index := make(map[MessageID]int, len(cp.messages))
	for i, m := range cp.messages {
		if !m.Pending {
			index[m.ID] = i
		}
	}

	accepted := make([]Message, 0, len(incoming))
	for _, m := range incoming {
		if m.Pending || m.ID <= 0 {
			jww.WARN.Printf("[CH] Ignoring unconfirmed message in merge of "+
				"channel %d", channelID)
			continue
		}
		if m.ChannelID != 0 && m.ChannelID != channelID {
			jww.WARN.Printf("[CH] Ignoring message %d of channel %d in merge "+
				"of channel %d", m.ID, m.ChannelID, channelID)
			continue
		}

		m = confirmedCopy(m, channelID)
		if i, exists := index[m.ID]; exists {
			cp.messages[i] = m
		} else {
			index[m.ID] = len(cp.messages)
			cp.messages = append(cp.messages, m)
		}
		accepted = append(accepted, m.copy())
	}

	sortMessages(cp.messages)
	return accepted
}

// confirmedCopy returns the copy of a confirmed message as stored in the
// cache.
func confirmedCopy(m Message, channelID ChannelID) Message {
	m = m.copy()
	m.ChannelID = channelID
	m.Pending = false
	m.TempID = 0
	m.Reactions = nil
	return m
}

// sortMessages orders messages ascending by creation time. Ties are broken so
// the order is deterministic: confirmed before pending, then by ID, then by
// send order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return a.TempID > b.TempID
		}
		return a.ID < b.ID
	})
}

// View returns a copy of the channel's deduplicated, ascending view.
func (pc *PageCache) View(channelID ChannelID) []Message {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	cp, exists := pc.channels[channelID]
	if !exists {
		return []Message{}
	}
	view := make([]Message, len(cp.messages))
	for i := range cp.messages {
		view[i] = cp.messages[i].copy()
	}
	return view
}

// Get returns the confirmed message with the ID if it is in the channel's
// view.
func (pc *PageCache) Get(channelID ChannelID, messageID MessageID) (
	Message, bool) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	if cp, exists := pc.channels[channelID]; exists {
		for _, m := range cp.messages {
			if !m.Pending && m.ID == messageID {
				return m.copy(), true
			}
		}
	}
	return Message{}, false
}

// HasMore returns true if older history may exist for the channel.
func (pc *PageCache) HasMore(channelID ChannelID) bool {
	pc.mux.Lock()
	defer pc.mux.Unlock()
	cp, exists := pc.channels[channelID]
	return !exists || cp.hasMore
}

// Reset drops all cached messages, pages and cursor state of the channel and
// cancels its in-flight fetch, whose response will be discarded.
func (pc *PageCache) Reset(channelID ChannelID) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	cp, exists := pc.channels[channelID]
	if !exists {
		return
	}
	if cp.inflight != nil {
		cp.inflight.cancel()
	}
	delete(pc.channels, channelID)
	jww.DEBUG.Printf("[CH] Reset cached state of channel %d", channelID)
}

////////////////////////////////////////////////////////////////////////////////
// Optimistic Entries                                                         //
////////////////////////////////////////////////////////////////////////////////

// Generation returns the current generation of the channel's entry. It
// changes whenever the channel is reset.
func (pc *PageCache) Generation(channelID ChannelID) uint64 {
	pc.mux.Lock()
	defer pc.mux.Unlock()
	return pc.getUnsafe(channelID).generation
}

// isCurrent returns true if the channel's entry exists and is of the given
// generation.
func (pc *PageCache) isCurrent(channelID ChannelID, generation uint64) bool {
	pc.mux.Lock()
	defer pc.mux.Unlock()
	cp, exists := pc.channels[channelID]
	return exists && cp.generation == generation
}

// InsertPending adds a pending message to the channel's view and returns the
// generation it was inserted into.
func (pc *PageCache) InsertPending(channelID ChannelID, msg Message) uint64 {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	cp := pc.getUnsafe(channelID)
	msg = msg.copy()
	msg.ChannelID = channelID
	msg.Pending = true
	msg.ID = 0
	cp.messages = append(cp.messages, msg)
	sortMessages(cp.messages)
	return cp.generation
}

// Promote atomically replaces the pending entry with its confirmed
// counterpart. If the confirmed ID is already in the view (its broadcast
// arrived first) the pending entry is removed instead, so the message is
// never shown twice. If the pending entry is gone, the confirmed message is
// merged.
//
// Returns false, changing nothing, if the channel was reset after the pending
// entry was inserted.
func (pc *PageCache) Promote(channelID ChannelID, generation uint64,
	tempID TempID, confirmed Message) bool {
	if confirmed.ID <= 0 {
		jww.WARN.Printf("[CH] Refusing to promote pending message %d of "+
			"channel %d to invalid ID %d", tempID, channelID, confirmed.ID)
		return false
	}

	pc.mux.Lock()
	defer pc.mux.Unlock()

	cp, exists := pc.channels[channelID]
	if !exists || cp.generation != generation {
		return false
	}

	confirmed = confirmedCopy(confirmed, channelID)
	pendingIdx, confirmedIdx := -1, -1
	for i, m := range cp.messages {
		if m.Pending && m.TempID == tempID {
			pendingIdx = i
		} else if !m.Pending && m.ID == confirmed.ID {
			confirmedIdx = i
		}
	}

	switch {
	case pendingIdx >= 0 && confirmedIdx >= 0:
		cp.messages[confirmedIdx] = confirmed
		cp.messages = append(cp.messages[:pendingIdx],
			cp.messages[pendingIdx+1:]...)
	case pendingIdx >= 0:
		cp.messages[pendingIdx] = confirmed
	case confirmedIdx >= 0:
		cp.messages[confirmedIdx] = confirmed
	default:
		cp.messages = append(cp.messages, confirmed)
	}

	sortMessages(cp.messages)
	return true
}

// RemovePending removes the pending entry from the channel. Returns false if
// it is not there.
func (pc *PageCache) RemovePending(channelID ChannelID, generation uint64,
	tempID TempID) bool {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	cp, exists := pc.channels[channelID]
	if !exists || cp.generation != generation {
		return false
	}
	for i, m := range cp.messages {
		if m.Pending && m.TempID == tempID {
			cp.messages = append(cp.messages[:i], cp.messages[i+1:]...)
			return true
		}
	}
	return false
}

// FindPending returns a copy of the pending message with the temp ID, if it is
// still in the view.
func (pc *PageCache) FindPending(channelID ChannelID, tempID TempID) (
	Message, bool) {
	pc.mux.Lock()
	defer pc.mux.Unlock()

	if cp, exists := pc.channels[channelID]; exists {
		for _, m := range cp.messages {
			if m.Pending && m.TempID == tempID {
				return m.copy(), true
			}
		}
	}
	return Message{}, false
}
