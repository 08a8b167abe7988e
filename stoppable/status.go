////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import "strconv"

// Status holds the current state of a Stoppable.
type Status uint32

const (
	// Running signifies the goroutine is active.
	Running Status = iota

	// Stopping signifies a quit signal has been sent but not yet honored.
	Stopping

	// Stopped signifies the goroutine has exited.
	Stopped
)

// String adheres to the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "invalid status: " + strconv.Itoa(int(s))
	}
}
