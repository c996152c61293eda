////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	jww "github.com/spf13/jwalterweatherman"
)

// Thread is a channel's messages grouped two levels deep: root messages and,
// for each root, every reply whose parent chain leads to it.
type Thread struct {
	Roots         []Message
	RepliesByRoot map[MessageID][]Message
}

// ThreadAnomalies counts the replies that were shown as roots because their
// parent chain was broken. They are data-quality signals, not errors.
type ThreadAnomalies struct {
	// Cycles is the number of replies whose parent chain loops.
	Cycles int

	// Orphans is the number of replies whose parent chain references a
	// message that is not loaded.
	Orphans int
}

// ResolveThreads groups a deduplicated message list into roots and replies.
//
// Every reply is walked up its parent chain to its root. A reply whose chain
// references a message that is not in the list, or loops back on itself, is
// treated as its own root so it is never dropped. Roots and each root's
// replies are sorted ascending by creation time.
//
// The walk is bounded by a visited set, so on adversarial input the cost is
// O(n²) in the number of messages.
func ResolveThreads(msgs []Message) (Thread, ThreadAnomalies) {
	index := make(map[MessageID]Message, len(msgs))
	for _, m := range msgs {
		if !m.Pending {
			index[m.ID] = m
		}
	}

	var anomalies ThreadAnomalies
	t := Thread{
		Roots:         make([]Message, 0, len(msgs)),
		RepliesByRoot: make(map[MessageID][]Message),
	}

	for _, m := range msgs {
		if !m.IsReply() {
			t.Roots = append(t.Roots, m)
			continue
		}

		rootID, ok := resolveRoot(m, index, &anomalies)
		if !ok {
			t.Roots = append(t.Roots, m)
			continue
		}
		t.RepliesByRoot[rootID] = append(t.RepliesByRoot[rootID], m)
	}

	sortMessages(t.Roots)
	for rootID := range t.RepliesByRoot {
		sortMessages(t.RepliesByRoot[rootID])
	}

	if anomalies.Cycles > 0 {
		jww.WARN.Printf("[CH] Found %d replies with a cyclic parent chain; "+
			"showing them as roots", anomalies.Cycles)
	}
	if anomalies.Orphans > 0 {
		jww.DEBUG.Printf("[CH] Showing %d replies with unloaded parents as "+
			"roots", anomalies.Orphans)
	}

	return t, anomalies
}

// resolveRoot walks the parent chain of the reply. Returns false if the chain
// is broken, in which case the reply is its own root.
func resolveRoot(reply Message, index map[MessageID]Message,
	anomalies *ThreadAnomalies) (MessageID, bool) {
	seen := map[MessageID]struct{}{reply.ID: {}}
	current := reply
	for current.IsReply() {
		parent, exists := index[current.ParentID]
		if !exists {
			anomalies.Orphans++
			return 0, false
		}
		if _, visited := seen[parent.ID]; visited {
			anomalies.Cycles++
			return 0, false
		}
		seen[parent.ID] = struct{}{}
		current = parent
	}
	return current.ID, true
}
