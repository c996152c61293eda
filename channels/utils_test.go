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
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var testEpoch = time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

const (
	testWait = 2 * time.Second
	testTick = 5 * time.Millisecond
)

// at returns the test time the given number of seconds after the epoch.
func at(sec int) time.Time {
	return testEpoch.Add(time.Duration(sec) * time.Second)
}

// newTestMessage returns a confirmed message in channel 1.
func newTestMessage(id MessageID, sec int) Message {
	return Message{
		ID:         id,
		ChannelID:  1,
		AuthorID:   "other",
		AuthorName: "Other",
		Content:    "message",
		CreatedAt:  at(sec),
	}
}

func messageIDs(msgs []Message) []MessageID {
	ids := make([]MessageID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

////////////////////////////////////////////////////////////////////////////////
// Mock Fetcher                                                               //
////////////////////////////////////////////////////////////////////////////////

type mockFetcher struct {
	fetch func(ctx context.Context, channelID ChannelID, before MessageID,
		limit int) (Page, error)
	calls int32
}

func (mf *mockFetcher) FetchPage(ctx context.Context, channelID ChannelID,
	before MessageID, limit int) (Page, error) {
	atomic.AddInt32(&mf.calls, 1)
	if mf.fetch == nil {
		return Page{}, nil
	}
	return mf.fetch(ctx, channelID, before, limit)
}

func (mf *mockFetcher) Calls() int {
	return int(atomic.LoadInt32(&mf.calls))
}

////////////////////////////////////////////////////////////////////////////////
// Mock Live Channel                                                          //
////////////////////////////////////////////////////////////////////////////////

type mockLive struct {
	handlers map[string]EventHandler
	typing   []TypingSignal
	intents  []ReactionIntent
	requests []SendRequest

	send  func(ctx context.Context, req SendRequest) (Message, error)
	react func(ctx context.Context, intent ReactionIntent) error

	joinErr error
	mux     sync.Mutex
}

func newMockLive() *mockLive {
	return &mockLive{handlers: make(map[string]EventHandler)}
}

func (ml *mockLive) JoinRoom(_ context.Context, room string,
	handler EventHandler) error {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	if ml.joinErr != nil {
		return ml.joinErr
	}
	ml.handlers[room] = handler
	return nil
}

func (ml *mockLive) LeaveRoom(_ context.Context, room string) error {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	delete(ml.handlers, room)
	return nil
}

func (ml *mockLive) SendMessage(ctx context.Context, req SendRequest) (
	Message, error) {
	ml.mux.Lock()
	ml.requests = append(ml.requests, req)
	send := ml.send
	ml.mux.Unlock()
	if send == nil {
		return Message{}, errors.New("no send handler")
	}
	return send(ctx, req)
}

func (ml *mockLive) React(ctx context.Context, intent ReactionIntent) error {
	ml.mux.Lock()
	ml.intents = append(ml.intents, intent)
	react := ml.react
	ml.mux.Unlock()
	if react == nil {
		return nil
	}
	return react(ctx, intent)
}

func (ml *mockLive) Typing(_ context.Context, signal TypingSignal) error {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	ml.typing = append(ml.typing, signal)
	return nil
}

// deliver passes the event to the handler of the room, as the transport
// would. Returns false if the room is not joined.
func (ml *mockLive) deliver(room string, ev InboundEvent) bool {
	ml.mux.Lock()
	handler, exists := ml.handlers[room]
	ml.mux.Unlock()
	if !exists {
		return false
	}
	handler(ev)
	return true
}

func (ml *mockLive) handler(room string) EventHandler {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	return ml.handlers[room]
}

func (ml *mockLive) typingSignals() []TypingSignal {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	return append([]TypingSignal(nil), ml.typing...)
}

func (ml *mockLive) sendRequests() []SendRequest {
	ml.mux.Lock()
	defer ml.mux.Unlock()
	return append([]SendRequest(nil), ml.requests...)
}

////////////////////////////////////////////////////////////////////////////////
// Mock File Store                                                            //
////////////////////////////////////////////////////////////////////////////////

type mockFiles struct {
	upload func(ctx context.Context, file FileUpload) (Attachment, error)
}

func (mf *mockFiles) Upload(ctx context.Context, file FileUpload) (
	Attachment, error) {
	return mf.upload(ctx, file)
}

////////////////////////////////////////////////////////////////////////////////
// Mock Identity                                                              //
////////////////////////////////////////////////////////////////////////////////

type mockIdentity struct {
	id   UserID
	name string
}

func (mi mockIdentity) UserID() UserID      { return mi.id }
func (mi mockIdentity) DisplayName() string { return mi.name }

var testIdentity = mockIdentity{id: "me", name: "Me"}

////////////////////////////////////////////////////////////////////////////////
// Mock Event Model                                                           //
////////////////////////////////////////////////////////////////////////////////

type statusUpdate struct {
	tempID TempID
	msg    Message
	status SentStatus
}

type mockEventModel struct {
	joined    []ChannelID
	left      []ChannelID
	received  []Message
	statuses  []statusUpdate
	reactions map[MessageID][]ReactionGroup
	typing    []string
	mux       sync.Mutex
}

func newMockEventModel() *mockEventModel {
	return &mockEventModel{reactions: make(map[MessageID][]ReactionGroup)}
}

func (m *mockEventModel) JoinChannel(channel Channel) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.joined = append(m.joined, channel.ID)
}

func (m *mockEventModel) LeaveChannel(channelID ChannelID) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.left = append(m.left, channelID)
}

func (m *mockEventModel) ReceiveMessage(msg Message) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.received = append(m.received, msg)
}

func (m *mockEventModel) UpdateFromTempID(_ ChannelID, tempID TempID,
	msg Message, status SentStatus) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.statuses = append(m.statuses, statusUpdate{tempID, msg, status})
}

func (m *mockEventModel) UpdateReactions(_ ChannelID, messageID MessageID,
	groups []ReactionGroup) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.reactions[messageID] = groups
}

func (m *mockEventModel) UpdateTyping(_ ChannelID, userName string, typing bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if !typing {
		userName = ""
	}
	m.typing = append(m.typing, userName)
}

func (m *mockEventModel) statusesOf(tempID TempID) []SentStatus {
	m.mux.Lock()
	defer m.mux.Unlock()
	var statuses []SentStatus
	for _, su := range m.statuses {
		if su.tempID == tempID {
			statuses = append(statuses, su.status)
		}
	}
	return statuses
}
