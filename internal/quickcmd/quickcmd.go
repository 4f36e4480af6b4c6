// Package quickcmd dispatches chat messages against a player's configured
// quick-command bindings, with a fuzzy public-asset fallback (spec §4.I).
package quickcmd

import (
	"context"
	"strings"

	"bken/server/internal/store"
	"bken/server/internal/verr"
)

// blockedPrefixes may never be configured as a player's quick-command
// prefix, since they collide with other chat conventions (spec §4.I, §7).
var blockedPrefixes = map[string]bool{
	"!":  true,
	"/":  true,
	"\\": true,
}

// ValidatePrefix enforces the 1-4 character, non-blocked prefix rule at the
// configuration boundary (spec §3 Quick-command setting).
func ValidatePrefix(prefix string) error {
	if len(prefix) < 1 || len(prefix) > 4 {
		return verr.New(verr.ValidationError, "prefix must be 1-4 characters")
	}
	if blockedPrefixes[prefix[:1]] {
		return verr.New(verr.ValidationError, "prefix may not start with !, /, or \\")
	}
	return nil
}

// ValidateShortAlias enforces the alias length cap (spec §3).
func ValidateShortAlias(alias string) error {
	if alias == "" || len(alias) > 16 {
		return verr.New(verr.ValidationError, "quick-command alias must be 1-16 characters")
	}
	return nil
}

// ValidateChatReplacement enforces the replacement-text length cap.
func ValidateChatReplacement(text string) error {
	if len(text) > 128 {
		return verr.New(verr.ValidationError, "chat replacement must be at most 128 characters")
	}
	return nil
}

// Result describes what a chat message resolved to.
type Result struct {
	Matched     bool
	ChatText    string // empty for a silent play
	BindingID   int64  // set when the hit is the player's own bound sound
	FileID      string // set when the hit is a public asset
}

// Dispatch evaluates one chat message from identity against their
// configured prefix and bindings, per the five-step algorithm in spec
// §4.I. A false Result.Matched means "not a quick command" or "no match
// found" — in both cases the caller should let the original chat through.
func Dispatch(ctx context.Context, s *store.Store, identity, message string) (Result, error) {
	settings, err := s.GetSettings(ctx, identity)
	if err != nil {
		return Result{}, err
	}
	prefix := settings.QuickPrefix
	if !strings.HasPrefix(message, prefix) {
		return Result{}, nil
	}
	alias := strings.TrimPrefix(message, prefix)
	if alias == "" {
		return Result{}, nil
	}

	qc, err := exactAliasMatch(ctx, s, identity, alias)
	if err == nil {
		return Result{Matched: true, ChatText: qc.ChatReplacement, BindingID: qc.TargetBindingID.Int64, FileID: qc.TargetFileID.String}, nil
	}
	if !verr.Is(err, verr.NotFound) {
		return Result{}, err
	}

	f, err := s.FindPublicSound(ctx, alias)
	if err == nil {
		return Result{Matched: true, FileID: f.ID}, nil
	}
	if !verr.Is(err, verr.NotFound) {
		return Result{}, err
	}
	return Result{}, nil
}

// exactAliasMatch performs a case-insensitive exact match against
// identity's configured quick commands (spec §4.I step 3).
func exactAliasMatch(ctx context.Context, s *store.Store, identity, alias string) (store.QuickCommandAlias, error) {
	cmds, err := s.QuickCommandsFor(ctx, identity)
	if err != nil {
		return store.QuickCommandAlias{}, err
	}
	lower := strings.ToLower(alias)
	for _, qc := range cmds {
		if strings.ToLower(qc.ShortAlias) == lower {
			return qc, nil
		}
	}
	return store.QuickCommandAlias{}, verr.New(verr.NotFound, "no quick command matches "+alias)
}
