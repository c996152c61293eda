////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"encoding/json"
	"time"
)

// Params contains the tunable behaviour of the channel manager.
type Params struct {
	// PageSize is the number of messages requested per history page.
	PageSize int

	// TypingWindow is the debounce window of the local typing signal. A burst
	// of input emits typing=true once, and typing=false after the window
	// elapses with no further input.
	TypingWindow time.Duration

	// RemoteTypingExpiry is how long a remote typing indicator is shown when
	// no follow-up event arrives.
	RemoteTypingExpiry time.Duration

	// SendTimeout bounds attachment upload plus send acknowledgement.
	SendTimeout time.Duration

	// FetchTimeout bounds a single history page fetch.
	FetchTimeout time.Duration
}

// GetDefaultParams returns a usable set of default channel parameters.
func GetDefaultParams() Params {
	return Params{
		PageSize:           30,
		TypingWindow:       2 * time.Second,
		RemoteTypingExpiry: 6 * time.Second,
		SendTimeout:        30 * time.Second,
		FetchTimeout:       15 * time.Second,
	}
}

// GetParameters returns the default Params, or override with given
// parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		err := json.Unmarshal([]byte(params), &p)
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
