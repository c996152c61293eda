////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package socket

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Params contains the tunable parameters of the live connection.
type Params struct {
	// WriteRate is the maximum number of frames written per second.
	WriteRate int

	// HandshakeTimeout bounds the websocket opening handshake.
	HandshakeTimeout time.Duration

	// AckTimeout is how long a request waits for the server's ack.
	AckTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// PingPeriod is the interval between keepalive pings. The connection is
	// considered dead if no pong arrives within PongWait.
	PingPeriod time.Duration
	PongWait   time.Duration

	// MaxFrameSize is the largest inbound frame accepted, in bytes.
	MaxFrameSize int64
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		WriteRate:        20,
		HandshakeTimeout: 10 * time.Second,
		AckTimeout:       10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingPeriod:       54 * time.Second,
		PongWait:         60 * time.Second,
		MaxFrameSize:     1 << 20,
	}
}

// GetParameters returns the default Params, or override with given
// parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		err := json.Unmarshal([]byte(params), &p)
		if err != nil {
			return Params{}, errors.Wrap(err, "failed to parse socket params")
		}
	}
	return p, nil
}
