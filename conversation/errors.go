////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import "github.com/pkg/errors"

var (
	// ErrMalformedMessage is returned when an inbound message has no sender,
	// no content, and no media reference, or carries no usable timestamp.
	// Such payloads are dropped rather than merged.
	ErrMalformedMessage = errors.New(
		"malformed message: empty sender, content, and media reference, " +
			"or unusable timestamp")

	// ErrClosed is returned by Manager entry points after Close.
	ErrClosed = errors.New("conversation manager is closed")

	// ErrNotConnected is returned by a transport when the event channel is
	// down. Callers fall back to the request path.
	ErrNotConnected = errors.New("event channel is not connected")

	// ErrUnknownMessage is returned when an operation names a message the
	// store does not hold.
	ErrUnknownMessage = errors.New("no such message in the store")

	// ErrInitialLoadRequired is returned by LoadOlder before LoadInitial has
	// established the paging window.
	ErrInitialLoadRequired = errors.New(
		"initial load must complete before paging older history")
)
