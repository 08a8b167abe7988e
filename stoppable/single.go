////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Single controls one goroutine: the owner selects on Quit, and on receipt
// finishes its work and calls ToStopped. It adheres to the Stoppable
// interface.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a running Single with the given name.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}, 1),
		status: uint32(Running),
	}
}

// Name returns the name the Single was created with.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the current lifecycle status.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

// IsRunning returns true while the controlled goroutine has not been told to
// quit.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopped returns true once the controlled goroutine has confirmed its
// exit.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// Quit returns the channel the controlled goroutine must select on.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// ToStopped is called by the controlled goroutine as its last act. Panics
// when the Single was never told to stop; that is a usage bug, not a runtime
// condition.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("Stoppable %q cannot confirm its exit from status "+
			"%s; only %s can become %s.",
			s.name, s.GetStatus(), Stopping, Stopped)
	}

	jww.DEBUG.Printf("Stoppable %q is now %s.", s.name, Stopped)
}

// Close tells the controlled goroutine to quit. Only the first call has any
// effect; an error is returned when the Single was not running.
func (s *Single) Close() error {
	var err error

	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			&s.status, uint32(Running), uint32(Stopping)) {
			err = errors.Errorf("cannot stop stoppable %q with status %s",
				s.name, s.GetStatus())
			return
		}
		jww.DEBUG.Printf("Stoppable %q is now %s.", s.name, Stopping)

		s.quit <- struct{}{}
	})

	if err != nil {
		jww.ERROR.Print(err.Error())
	}
	return err
}
