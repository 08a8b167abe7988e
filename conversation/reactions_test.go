////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Tests that toggling twice returns the table to its prior state.
func TestReactionTable_Toggle_Idempotent(t *testing.T) {
	rtb := newReactionTable()

	added, err := rtb.Toggle(1, "alice", "👍")
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, map[string][]string{"👍": {"alice"}}, rtb.Summary(1))

	added, err = rtb.Toggle(1, "alice", "👍")
	require.NoError(t, err)
	require.False(t, added)
	require.Nil(t, rtb.Summary(1))
}

// Tests that a reaction kind must be exactly one emoji.
func TestReactionTable_Toggle_InvalidKind(t *testing.T) {
	rtb := newReactionTable()

	for _, kind := range []string{"", "thumbs up", "👍👍", "A👍"} {
		_, err := rtb.Toggle(1, "alice", kind)
		require.ErrorIs(t, err, InvalidReaction, "kind %q", kind)
	}
	require.Nil(t, rtb.Summary(1))
}

// Tests that the authoritative replacement discards optimistic local state
// entirely, including reactions the server never saw.
func TestReactionTable_Replace(t *testing.T) {
	rtb := newReactionTable()

	_, err := rtb.Toggle(1, "self", "🎉")
	require.NoError(t, err)

	rtb.Replace(1, map[string][]string{
		"👍": {"carol", "bob"},
		"❤️": {"alice"},
	})

	require.Equal(t, map[string][]string{
		"👍": {"bob", "carol"},
		"❤️": {"alice"},
	}, rtb.Summary(1))

	// An empty authoritative map clears the message.
	rtb.Replace(1, nil)
	require.Nil(t, rtb.Summary(1))
}

// Tests that replacement only affects the named message.
func TestReactionTable_Replace_Scoped(t *testing.T) {
	rtb := newReactionTable()

	_, err := rtb.Toggle(1, "alice", "👍")
	require.NoError(t, err)
	_, err = rtb.Toggle(2, "alice", "👍")
	require.NoError(t, err)

	rtb.Replace(1, map[string][]string{"🎉": {"bob"}})

	require.Equal(t, map[string][]string{"🎉": {"bob"}}, rtb.Summary(1))
	require.Equal(t, map[string][]string{"👍": {"alice"}}, rtb.Summary(2))
}
