// Package channel resolves heterogeneous Telegram channel references into a
// canonical form. Resolution is purely syntactic: it classifies and
// normalizes the configured strings without ever touching the network, so a
// malformed entry is rejected before the first API call.
package channel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies the syntactic form of a channel reference. The set is
// closed: downstream code switches over these values instead of
// re-inspecting strings.
type Kind int

const (
	// KindUsername is a bare @name handle.
	KindUsername Kind = iota
	// KindPublicLink is a t.me/name link.
	KindPublicLink
	// KindNumericID is a -100-prefixed channel ID.
	KindNumericID
	// KindPrivateInviteLink is a t.me/joinchat/<token> or t.me/+<token> link.
	KindPrivateInviteLink
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindUsername:
		return "username"
	case KindPublicLink:
		return "public_link"
	case KindNumericID:
		return "numeric_id"
	case KindPrivateInviteLink:
		return "invite_link"
	default:
		return "unknown"
	}
}

// Ref is a validated channel reference. Canonical uniquely identifies the
// channel to the Telegram API: the lowercased username for handle and link
// forms, the full -100-prefixed ID for numeric form, and the invite token
// for invite links. Refs are immutable after resolution.
type Ref struct {
	Raw       string
	Kind      Kind
	Canonical string
}

// BareChannelID returns the channel ID without the -100 marker prefix.
// It reports false for non-numeric references.
func (r Ref) BareChannelID() (int64, bool) {
	if r.Kind != KindNumericID {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.Canonical, "-100"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ValidationError describes a channel reference that matched none of the
// supported forms.
type ValidationError struct {
	Raw      string
	Expected string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid channel reference %q: expected %s", e.Raw, e.Expected)
}

const expectedForms = "@username, t.me/username, -100<id>, or t.me/joinchat/<token>"

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{4,31}$`)
	numericRe  = regexp.MustCompile(`^-100\d{6,13}$`)
	inviteRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)
)

// Resolve classifies and normalizes a single channel reference. The input
// is trimmed first; an empty string is a validation error.
func Resolve(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, &ValidationError{Raw: raw, Expected: expectedForms}
	}

	if strings.HasPrefix(s, "@") {
		name := s[1:]
		if !usernameRe.MatchString(name) {
			return Ref{}, &ValidationError{Raw: raw, Expected: "@ followed by 5-32 letters, digits or underscores, starting with a letter"}
		}
		return Ref{Raw: raw, Kind: KindUsername, Canonical: strings.ToLower(name)}, nil
	}

	if strings.HasPrefix(s, "-") {
		if !numericRe.MatchString(s) {
			return Ref{}, &ValidationError{Raw: raw, Expected: "a -100-prefixed numeric channel ID"}
		}
		return Ref{Raw: raw, Kind: KindNumericID, Canonical: s}, nil
	}

	if path, ok := linkPath(s); ok {
		if token, ok := strings.CutPrefix(path, "joinchat/"); ok {
			return inviteRef(raw, token)
		}
		if token, ok := strings.CutPrefix(path, "+"); ok {
			return inviteRef(raw, token)
		}
		if !usernameRe.MatchString(path) {
			return Ref{}, &ValidationError{Raw: raw, Expected: "a t.me link to a 5-32 character username"}
		}
		return Ref{Raw: raw, Kind: KindPublicLink, Canonical: strings.ToLower(path)}, nil
	}

	return Ref{}, &ValidationError{Raw: raw, Expected: expectedForms}
}

// ResolveList resolves every entry of a configured channel list. A bad
// entry does not stop processing: the caller gets every valid Ref plus one
// error per rejected entry.
func ResolveList(raws []string) ([]Ref, []error) {
	refs := make([]Ref, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		ref, err := Resolve(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, errs
}

// linkPath strips an optional scheme and a t.me / telegram.me host,
// returning the remaining path.
func linkPath(s string) (string, bool) {
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, host := range []string{"t.me/", "telegram.me/"} {
		if path, ok := strings.CutPrefix(s, host); ok {
			return strings.TrimSuffix(path, "/"), true
		}
	}
	return "", false
}

func inviteRef(raw, token string) (Ref, error) {
	if !inviteRe.MatchString(token) {
		return Ref{}, &ValidationError{Raw: raw, Expected: "an invite link with a 5-64 character token"}
	}
	return Ref{Raw: raw, Kind: KindPrivateInviteLink, Canonical: token}, nil
}
