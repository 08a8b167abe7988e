////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"sort"

	"github.com/golang-collections/collections/set"
)

// reactionTable maintains, per message, a map of reaction kind to the set of
// users who reacted. Local toggles are optimistic; the authoritative
// broadcast fully replaces a message's map when it arrives, which is what
// resolves concurrent toggles rather than client-side locking. It is not
// safe for concurrent use; the Manager serializes every caller.
type reactionTable struct {
	byMessage map[MessageID]map[string]*set.Set
}

func newReactionTable() *reactionTable {
	return &reactionTable{
		byMessage: make(map[MessageID]map[string]*set.Set),
	}
}

// Toggle flips the user's membership in the given reaction kind: present is
// removed, absent is added. The kind must be a single emoji. Returns whether
// the user is a reactor after the toggle.
func (rtb *reactionTable) Toggle(
	msgID MessageID, userID, kind string) (bool, error) {
	if err := ValidateReaction(kind); err != nil {
		return false, err
	}

	kinds, ok := rtb.byMessage[msgID]
	if !ok {
		kinds = make(map[string]*set.Set)
		rtb.byMessage[msgID] = kinds
	}

	users, ok := kinds[kind]
	if !ok {
		users = set.New()
		kinds[kind] = users
	}

	if users.Has(userID) {
		users.Remove(userID)
		if users.Len() == 0 {
			delete(kinds, kind)
		}
		return false, nil
	}

	users.Insert(userID)
	return true, nil
}

// Replace installs the authoritative reaction map for a message, discarding
// any optimistic local state.
func (rtb *reactionTable) Replace(msgID MessageID, wire map[string][]string) {
	if len(wire) == 0 {
		delete(rtb.byMessage, msgID)
		return
	}

	kinds := make(map[string]*set.Set, len(wire))
	for kind, users := range wire {
		if len(users) == 0 {
			continue
		}
		s := set.New()
		for _, u := range users {
			s.Insert(u)
		}
		kinds[kind] = s
	}
	rtb.byMessage[msgID] = kinds
}

// Summary returns the reaction map for a message with user lists in a stable
// order. Returns nil when the message has no reactions.
func (rtb *reactionTable) Summary(msgID MessageID) map[string][]string {
	kinds, ok := rtb.byMessage[msgID]
	if !ok || len(kinds) == 0 {
		return nil
	}

	out := make(map[string][]string, len(kinds))
	for kind, users := range kinds {
		list := make([]string, 0, users.Len())
		users.Do(func(u interface{}) {
			list = append(list, u.(string))
		})
		sort.Strings(list)
		out[kind] = list
	}
	return out
}
