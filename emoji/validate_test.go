////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package emoji

import "testing"

func TestValidateReaction(t *testing.T) {
	testReactions := []string{
		"🍆", "😂", "❤", "🤣", "👍", "😭", "🙏", "😘", "🥰", "😍", "😊",
		"☺", "🍆🍆", "🍆A", "👍👍👍", "👍😘A", "",
	}

	expected := []error{
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
		InvalidReaction, InvalidReaction, InvalidReaction, InvalidReaction,
		InvalidReaction,
	}

	for i, r := range testReactions {
		err := ValidateReaction(r)
		if err != expected[i] {
			t.Errorf("Got incorrect response for %q (%d): "+
				"`%s` vs `%s`", r, i, err, expected[i])
		}
	}
}

func TestValidateReaction_DefaultReactions(t *testing.T) {
	for _, r := range DefaultReactions {
		if err := ValidateReaction(r); err != nil {
			t.Errorf("Default reaction %q is not valid: %+v", r, err)
		}
	}
}

func TestIsDefault(t *testing.T) {
	if !IsDefault("👍") {
		t.Errorf("👍 should be a default reaction")
	}
	if IsDefault("🍆") {
		t.Errorf("🍆 should not be a default reaction")
	}
}
