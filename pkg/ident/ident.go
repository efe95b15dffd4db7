// Package ident generates the opaque, prefixed identifiers and one-shot
// bearer tokens used throughout the compositor: session ids, client ids,
// monitor ids, and auth tokens.
package ident

import (
	"crypto/subtle"
	"encoding/base64"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes are decorative only, matching the type of identifier for log
// readability. They carry no semantic weight and are never parsed back out.
const (
	PrefixClient  = "cli_"
	PrefixSession = "ses_"
	PrefixMonitor = "mon_"
	PrefixToken   = "tok_"
	PrefixAdmin   = "adm_"
)

var enc = base64.RawURLEncoding

// New returns a fresh opaque identifier with the given prefix, backed by
// 128 bits of randomness from a UUIDv4. The original implementation this
// daemon was distilled from concatenates two UUIDs per identifier; a single
// UUIDv4 already supplies the "opaque random 128-bit value" the spec calls
// for, so New uses one.
func New(prefix string) string {
	u := uuid.New()
	return prefix + enc.EncodeToString(u[:])
}

// NewClientID returns a fresh ClientId.
func NewClientID() string { return New(PrefixClient) }

// NewSessionID returns a fresh SessionId.
func NewSessionID() string { return New(PrefixSession) }

// NewMonitorID returns a fresh MonitorId.
func NewMonitorID() string { return New(PrefixMonitor) }

// NewAdminSessionID returns a fresh SessionId for the privileged admin role,
// distinguished only by log prefix — role is tracked separately in the
// session record, not encoded in the id.
func NewAdminSessionID() string { return New(PrefixAdmin) }

// NewToken returns a fresh one-shot bearer token. Tokens have no internal
// structure and no expiration beyond being consumed on first successful use.
func NewToken() string { return New(PrefixToken) }

// Equal compares two tokens in constant time, since token comparison is a
// security boundary (the one-shot auth check).
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ShortSuffix returns a short, display-friendly random suffix. Used to tag
// admin client launches for log correlation and in test fixtures that need
// a unique-but-readable name, not for anything security sensitive.
func ShortSuffix() string {
	id, err := gonanoid.New(8)
	if err != nil {
		// gonanoid.New only fails on a broken crypto/rand source; fall back
		// to a UUID-derived suffix rather than panicking in a daemon.
		u := uuid.New()
		return enc.EncodeToString(u[:])[:8]
	}
	return id
}
