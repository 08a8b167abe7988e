////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import "strconv"

// SentStatus represents the lifecycle state of a message in the store.
type SentStatus uint8

const (
	// Pending is the status of an optimistic local send that has not been
	// acknowledged by the server. A pending message has a client temp ID and
	// no canonical ID.
	Pending SentStatus = iota

	// Confirmed is the status of a message that carries a canonical server
	// ID, whether it arrived over the event channel, via backfill, or by
	// promotion of a pending entry.
	Confirmed

	// Failed is the status of a local send the server explicitly rejected.
	// It stays in the store, flagged, until the user retries or discards it.
	Failed
)

// String returns a human-readable version of SentStatus, used for debugging
// and logging. This function adheres to the fmt.Stringer interface.
func (ss SentStatus) String() string {
	switch ss {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "Invalid SentStatus: " + strconv.Itoa(int(ss))
	}
}

// OutboxStatus represents the delivery state of a pending outbox entry.
type OutboxStatus uint8

const (
	// Queued entries are waiting for the next flush or acknowledgment.
	Queued OutboxStatus = iota

	// Inflight entries have been handed to the transport and await an
	// acknowledgment or rejection.
	Inflight

	// Acknowledged entries have received a canonical ID; they are removed
	// from the outbox immediately, so the status is only ever observed
	// transiently.
	Acknowledged

	// FailedSend entries were rejected or could not be submitted. They are
	// resubmitted on the next flush.
	FailedSend
)

// String adheres to the fmt.Stringer interface.
func (os OutboxStatus) String() string {
	switch os {
	case Queued:
		return "queued"
	case Inflight:
		return "inflight"
	case Acknowledged:
		return "acknowledged"
	case FailedSend:
		return "failed"
	default:
		return "Invalid OutboxStatus: " + strconv.Itoa(int(os))
	}
}
