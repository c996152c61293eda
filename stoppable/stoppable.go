////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the lifecycle of long-running goroutines such as
// the read loop of a live connection.
package stoppable

import (
	"time"
)

// Stoppable is a goroutine that can be asked to stop and waited on.
type Stoppable interface {
	Name() string
	GetStatus() Status
	IsRunning() bool
	IsStopping() bool
	IsStopped() bool
	Close() error
	WaitForStopped(timeout time.Duration) error
}
