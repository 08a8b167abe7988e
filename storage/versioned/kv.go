////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package versioned layers schema versions and namespace prefixes on top of
// an ekv.KeyValue. All durable client state (most importantly the pending
// outbox) goes through it, so a process restart recovers exactly what was
// written.
package versioned

import (
	"fmt"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

// PrefixSeparator separates nested namespace prefixes in a key.
const PrefixSeparator = "/"

// MakeConversationPrefix creates the namespace prefix under which all state
// for a single conversation is stored.
func MakeConversationPrefix(conversationID string) string {
	return fmt.Sprintf("Conversation:%s", conversationID)
}

type root struct {
	data ekv.KeyValue
}

// KV stores versioned objects inside a namespace prefix.
type KV struct {
	r      *root
	prefix string
}

// NewKV creates a versioned key/value store backed by anything implementing
// ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{r: &root{data: data}}
}

// Get returns the object stored at the given key. The caller is responsible
// for inspecting the version of the returned object.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] get %q", key)
	result := Object{}
	if err := v.r.data.Get(key, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Set upserts the object at the given key. The version under which the object
// is filed comes from the object itself.
func (v *KV) Set(key string, object *Object) error {
	key = v.makeKey(key, object.Version)
	jww.TRACE.Printf("[KV] set %q", key)
	return v.r.data.Set(key, object)
}

// Delete removes the given key from the data store.
func (v *KV) Delete(key string, version uint64) error {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("[KV] delete %q", key)
	return v.r.data.Delete(key)
}

// Prefix returns a new KV with the given prefix appended. The underlying
// store is shared.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		r:      v.r,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

// GetPrefix returns the accumulated prefix of the KV.
func (v *KV) GetPrefix() string {
	return v.prefix
}

// IsMemStore returns true if the underlying store is in-memory only, i.e.
// nothing written through this KV survives a restart.
func (v *KV) IsMemStore() bool {
	_, success := v.r.data.(*ekv.Memstore)
	return success
}

// Exists returns false if the error indicates the element does not exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}
