////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable provides cooperative shutdown of long-lived goroutines.
package stoppable

import "time"

// Poll interval used by WaitForStopped.
const pollPeriod = 100 * time.Millisecond

// Stoppable interface for stopping a goroutine.
type Stoppable interface {
	Name() string
	GetStatus() Status
	IsRunning() bool
	Close() error
}

// WaitForStopped polls the given Stoppable until it reports Stopped or the
// timeout elapses. Returns true if the Stoppable stopped in time.
func WaitForStopped(s Stoppable, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.GetStatus() == Stopped {
			return true
		}
		time.Sleep(pollPeriod)
	}
	return s.GetStatus() == Stopped
}
