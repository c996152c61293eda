////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import "strconv"

// SentStatus represents the current status of a locally sent message.
type SentStatus uint8

const (
	// Unsent is the status of a message when it is shown optimistically and
	// the server has not yet confirmed it.
	Unsent SentStatus = 0

	// Sent is the status of a message once the server acknowledged the send.
	Sent SentStatus = 1

	// Delivered is the status of a message once its broadcast was received
	// back on the live channel before the acknowledgement.
	Delivered SentStatus = 2

	// Failed is the status of a message if it failed to send. The optimistic
	// entry has been removed from the view.
	Failed SentStatus = 3
)

// String returns a human-readable version of [SentStatus], used for debugging
// and logging. This function adheres to the [fmt.Stringer] interface.
func (ss SentStatus) String() string {
	switch ss {
	case Unsent:
		return "unsent"
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "Invalid SentStatus: " + strconv.Itoa(int(ss))
	}
}
