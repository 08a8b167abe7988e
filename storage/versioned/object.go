////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"fmt"
	"time"
)

// Object is the unit of storage in a KV. It tracks the schema version of the
// serialized payload and the time it was written.
type Object struct {
	// Version of the serialized payload, used to detect stale schemas.
	Version uint64

	// Timestamp of the write.
	Timestamp time.Time

	// Serialized payload.
	Data []byte
}

// Unmarshal deserializes an Object from a byte slice so it can be loaded from
// an underlying KeyValue. All fields are exported with simple types, so
// json.Unmarshal suffices.
func (o *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, o)
}

// Marshal serializes an Object into a byte slice so it can be stored in an
// underlying KeyValue.
func (o *Object) Marshal() []byte {
	d, err := json.Marshal(o)
	// Failing to marshal this simple object means something is really wrong
	if err != nil {
		panic(fmt.Sprintf("Could not marshal: %+v", o))
	}
	return d
}
