////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"github.com/forPelevin/gomoji"
	"github.com/pkg/errors"
)

// InvalidReaction is returned when a reaction kind is anything other than a
// single emoji.
var InvalidReaction = errors.New(
	"The reaction is not valid, it must be a single emoji")

// ValidateReaction checks that the reaction kind contains exactly one emoji
// and nothing else. CollectAll reports every occurrence, so a repeated emoji
// fails the count; the whole-string comparison rejects any surrounding
// characters.
func ValidateReaction(reaction string) error {
	found := gomoji.CollectAll(reaction)
	if len(found) != 1 || found[0].Character != reaction {
		return InvalidReaction
	}
	return nil
}
