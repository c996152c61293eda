////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package channels

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ChannelNotJoinedErr is returned when operating on a channel that has not
	// been joined.
	ChannelNotJoinedErr = errors.New("the channel has not been joined")

	// ChannelResetErr is returned by a history fetch whose channel was reset
	// (switched away from) before the response arrived. The response is
	// discarded.
	ChannelResetErr = errors.New(
		"the channel was reset while the request was in flight")

	// NoActiveChannelErr is returned when an operation requires an active
	// channel and none has been switched to.
	NoActiveChannelErr = errors.New("no channel is active")

	// MessagePendingErr is returned when acting on a message the server has
	// not confirmed yet.
	MessagePendingErr = errors.New("the message has not been confirmed")

	// MessageNotFoundErr is returned when a message is not in the loaded view
	// of the channel.
	MessageNotFoundErr = errors.New("the message cannot be found")

	// EmptyMessageErr is returned when attempting to send a message with no
	// text and no attachments.
	EmptyMessageErr = errors.New("the message has no content")
)

// RetryableError is a transient failure of a network operation (history
// fetch, attachment upload, send). Local state is unchanged or rolled back,
// so the caller may retry the operation.
type RetryableError struct {
	Op  string
	Err error
}

// Error adheres to the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s failed (retryable): %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryableError) Unwrap() error { return e.Err }

// RejectedError is returned when the server explicitly refused a send, for
// example because the user lacks permission on the channel.
type RejectedError struct {
	Reason string
}

// Error adheres to the error interface.
func (e *RejectedError) Error() string {
	return "the server rejected the message: " + e.Reason
}

// IsRetryable returns true if the error, or any error it wraps, is a
// RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsRejected returns true if the error, or any error it wraps, is a
// RejectedError.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func retryable(op string, err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return &RetryableError{Op: op, Err: err}
}
