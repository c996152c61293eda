////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"os"
	"testing"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)

	os.Exit(m.Run())
}

// Tests that NewSingle returns a Single with the correct name and running.
func TestNewSingle(t *testing.T) {
	name := "threadName"
	single := NewSingle(name)

	if single.Name() != name {
		t.Errorf("NewSingle returned Single with incorrect name."+
			"\nexpected: %s\nreceived: %s", name, single.Name())
	}

	if single.GetStatus() != Running {
		t.Errorf("NewSingle returned Single with incorrect status."+
			"\nexpected: %s\nreceived: %s", Running, single.GetStatus())
	}
}

// Tests that the status helpers follow the lifecycle of a goroutine that is
// closed and then stops.
func TestSingle_Lifecycle(t *testing.T) {
	single := NewSingle("threadName")
	require.True(t, single.IsRunning())

	require.NoError(t, single.Close())
	require.True(t, single.IsStopping())

	single.ToStopped()
	require.True(t, single.IsStopped())
	require.False(t, single.IsRunning())
}

// Tests that every goroutine selecting on Single.Quit is released by Close.
func TestSingle_Quit(t *testing.T) {
	single := NewSingle("threadName")

	released := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-single.Quit()
			released <- struct{}{}
		}()
	}

	require.NoError(t, single.Close())

	for i := 0; i < 2; i++ {
		select {
		case <-released:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for goroutine %d to quit.", i)
		}
	}
}

// Tests that a second call to Single.Close returns an error.
func TestSingle_Close_Twice(t *testing.T) {
	single := NewSingle("threadName")

	require.NoError(t, single.Close())
	if err := single.Close(); err == nil {
		t.Error("Close did not return an error when already stopping.")
	}
}

// Tests that Single.ToStopped may be called by a goroutine that exits on its
// own, and that calling it again has no effect.
func TestSingle_ToStopped_WithoutClose(t *testing.T) {
	single := NewSingle("threadName")

	single.ToStopped()
	single.ToStopped()

	if !single.IsStopped() {
		t.Errorf("Unexpected status.\nexpected: %s\nreceived: %s",
			Stopped, single.GetStatus())
	}
	require.Error(t, single.Close())
}

// Tests that Single.WaitForStopped returns once the goroutine stops.
func TestSingle_WaitForStopped(t *testing.T) {
	single := NewSingle("threadName")

	go func() {
		<-single.Quit()
		time.Sleep(5 * time.Millisecond)
		single.ToStopped()
	}()

	require.NoError(t, single.Close())
	require.NoError(t, single.WaitForStopped(time.Second))

	select {
	case <-single.Stopped():
	default:
		t.Error("Stopped channel not closed after WaitForStopped returned.")
	}
}

// Tests that Single.WaitForStopped times out when the goroutine never stops.
func TestSingle_WaitForStopped_Timeout(t *testing.T) {
	single := NewSingle("threadName")
	require.NoError(t, single.Close())

	if err := single.WaitForStopped(5 * time.Millisecond); err == nil {
		t.Error("WaitForStopped did not time out.")
	}
}
