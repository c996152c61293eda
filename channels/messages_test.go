////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tests that the count on the wire is ignored and recomputed from the
// reactor set.
func TestReactionGroup_JSON(t *testing.T) {
	data := []byte(`{"emoji":"👍","userIds":["b","a","b",""],"count":7}`)

	var rg ReactionGroup
	require.NoError(t, json.Unmarshal(data, &rg))
	require.Equal(t, []UserID{"a", "b"}, rg.ReactorIDs)
	require.Equal(t, 2, rg.Count())
	require.True(t, rg.HasReactor("b"))
	require.False(t, rg.HasReactor("c"))

	out, err := json.Marshal(rg)
	require.NoError(t, err)
	require.JSONEq(t, `{"emoji":"👍","userIds":["a","b"],"count":2}`,
		string(out))

	out, err = json.Marshal(ReactionGroup{Emoji: "😮"})
	require.NoError(t, err)
	require.JSONEq(t, `{"emoji":"😮","userIds":[],"count":0}`, string(out))
}

func TestMessage_Key(t *testing.T) {
	pending := Message{TempID: -3, Pending: true}
	confirmed := Message{ID: 12, ParentID: 4}

	if pending.Key() != -3 {
		t.Errorf("Unexpected key of pending message.\nexpected: %d\n"+
			"received: %d", -3, pending.Key())
	}
	if confirmed.Key() != 12 || !confirmed.IsReply() {
		t.Errorf("Unexpected confirmed message: %+v", confirmed)
	}
	if RoomName(12) != "channel:12" {
		t.Errorf("Unexpected room name %q", RoomName(12))
	}
}
