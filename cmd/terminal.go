////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gitlab.com/elite-erp/chatcore/channels"
)

// terminal prints the events of the channel manager and forwards them to the
// local store. It adheres to the channels.EventModel interface.
type terminal struct {
	out   io.Writer
	store channels.EventModel
}

var _ channels.EventModel = (*terminal)(nil)

func newTerminal(out io.Writer, store channels.EventModel) *terminal {
	return &terminal{out: out, store: store}
}

func (t *terminal) printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(t.out, format+"\n", a...)
}

// syncWriter serialises writes from the manager's callbacks and the input
// loop.
type syncWriter struct {
	w   io.Writer
	mux sync.Mutex
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mux.Lock()
	defer sw.mux.Unlock()
	return sw.w.Write(p)
}

func (t *terminal) JoinChannel(channel channels.Channel) {
	t.printf("*** joined #%s (%d)", channel.Name, channel.ID)
	t.store.JoinChannel(channel)
}

func (t *terminal) LeaveChannel(channelID channels.ChannelID) {
	t.printf("*** left channel %d", channelID)
	t.store.LeaveChannel(channelID)
}

func (t *terminal) ReceiveMessage(msg channels.Message) {
	t.printf("%s", formatMessage(msg))
	t.store.ReceiveMessage(msg)
}

func (t *terminal) UpdateFromTempID(channelID channels.ChannelID,
	tempID channels.TempID, msg channels.Message, status channels.SentStatus) {
	switch status {
	case channels.Unsent:
		t.printf("%s (sending)", formatMessage(msg))
	case channels.Sent, channels.Delivered:
		t.printf("*** message %d sent as #%d", tempID, msg.ID)
	case channels.Failed:
		t.printf("*** message %d failed to send", tempID)
	}
	t.store.UpdateFromTempID(channelID, tempID, msg, status)
}

func (t *terminal) UpdateReactions(channelID channels.ChannelID,
	messageID channels.MessageID, groups []channels.ReactionGroup) {
	t.printf("*** reactions on #%d: %s", messageID, formatReactions(groups))
	t.store.UpdateReactions(channelID, messageID, groups)
}

func (t *terminal) UpdateTyping(
	channelID channels.ChannelID, userName string, typing bool) {
	if typing {
		t.printf("*** %s is typing...", userName)
	}
	t.store.UpdateTyping(channelID, userName, typing)
}

// formatMessage renders a message on one line.
func formatMessage(msg channels.Message) string {
	var sb strings.Builder
	if msg.Pending {
		fmt.Fprintf(&sb, "[%d] ", msg.TempID)
	} else {
		fmt.Fprintf(&sb, "[#%d] ", msg.ID)
	}
	sb.WriteString(msg.CreatedAt.Local().Format("15:04") + " ")
	if msg.IsReply() {
		fmt.Fprintf(&sb, "(re #%d) ", msg.ParentID)
	}
	sb.WriteString(msg.AuthorName + ": " + msg.Content)
	for _, att := range msg.Attachments {
		fmt.Fprintf(&sb, " [file %s]", att.Name)
	}
	if len(msg.Reactions) > 0 {
		sb.WriteString("  " + formatReactions(msg.Reactions))
	}
	return sb.String()
}

// formatReactions renders reaction groups as "👍 2* ❤️ 1", where * marks the
// groups the current user is part of.
func formatReactions(groups []channels.ReactionGroup) string {
	if len(groups) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		part := fmt.Sprintf("%s %d", g.Emoji, g.Count())
		if g.ReactedByCurrentUser {
			part += "*"
		}
		parts = append(parts, part)
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// printThreads renders the thread view of a channel.
func printThreads(out io.Writer, thread channels.Thread) {
	for _, root := range thread.Roots {
		_, _ = fmt.Fprintln(out, formatMessage(root))
		for _, reply := range thread.RepliesByRoot[root.ID] {
			_, _ = fmt.Fprintln(out, "    "+formatMessage(reply))
		}
	}
}
