package credentials

import (
	"crypto/subtle"
	"strings"
)

// MatchKind says how a raw value was matched to a credential.
type MatchKind string

const (
	MatchNone        MatchKind = "none"
	MatchRemoteID    MatchKind = "remote_id"
	MatchRemoteHint  MatchKind = "remote_hint"
	MatchLocalExact  MatchKind = "local_exact"
	MatchLocalPrefix MatchKind = "local_prefix"

	hintSuffixLen = 4
)

// MatchRemote finds the descriptor for raw. A descriptor whose id appears inside raw
// wins over one whose hint shares raw's last four characters.
func MatchRemote(raw string, descriptors []Descriptor) (Descriptor, MatchKind, bool) {
	if raw == "" {
		return Descriptor{}, MatchNone, false
	}
	for _, d := range descriptors {
		if d.ExternalID != "" && strings.Contains(raw, d.ExternalID) {
			return d, MatchRemoteID, true
		}
	}
	for _, d := range descriptors {
		if suffix := HintSuffix(d.Hint); suffix != "" && strings.HasSuffix(raw, suffix) {
			return d, MatchRemoteHint, true
		}
	}
	return Descriptor{}, MatchNone, false
}

// MatchLocal finds the mirror record for raw: an exact match on the sealed value
// first, then a case-insensitive id prefix built from raw. Records that fail to
// unseal are skipped.
func MatchLocal(raw string, records []*Record, unseal func(string) (string, error)) (*Record, MatchKind, bool) {
	if raw == "" {
		return nil, MatchNone, false
	}
	if unseal != nil {
		for _, r := range records {
			if !r.HasValue() {
				continue
			}
			value, err := unseal(r.SealedValue)
			if err != nil {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(value), []byte(raw)) == 1 {
				return r, MatchLocalExact, true
			}
		}
	}

	prefix := strings.ToLower(IDPrefix(raw))
	if prefix == "" {
		return nil, MatchNone, false
	}
	for _, r := range records {
		if strings.HasPrefix(strings.ToLower(r.ExternalID), prefix) {
			return r, MatchLocalPrefix, true
		}
	}
	return nil, MatchNone, false
}

// HintSuffix returns the last four characters of a redacted hint, or "" when the
// hint is too short to be useful.
func HintSuffix(hint string) string {
	runes := []rune(hint)
	if len(runes) < hintSuffixLen {
		return ""
	}
	return string(runes[len(runes)-hintSuffixLen:])
}

// IDPrefix returns the first two "_" separated segments of raw joined by "_", or ""
// when raw has fewer than two segments.
func IDPrefix(raw string) string {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "_" + parts[1]
}
