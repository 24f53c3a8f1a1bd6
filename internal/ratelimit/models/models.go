package models

import (
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of one throttle check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, zero when allowed
}

// KeyPrefix names the identity a bucket is keyed on.
type KeyPrefix string

const (
	KeyPrefixEmail  KeyPrefix = "dsr_email"
	KeyPrefixIP     KeyPrefix = "dsr_ip"
	KeyPrefixReport KeyPrefix = "report_ip"
)

// Key is a bucket key. Identifiers are escaped so a user-controlled value
// containing ':' cannot land in another identity's bucket.
type Key struct {
	prefix     KeyPrefix
	identifier string
}

func NewKey(prefix KeyPrefix, identifier string) Key {
	return Key{prefix: prefix, identifier: sanitizeKeySegment(identifier)}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.prefix, k.identifier)
}

// sanitizeKeySegment escapes '_' first, then ':', so the mapping stays injective:
// "a:b" -> "a_cb", "a_b" -> "a__b", "a_:b" -> "a___cb".
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}

// RetryAfterSeconds rounds the wait up so clients never retry a second early.
func RetryAfterSeconds(allowed bool, resetAt, now time.Time) int {
	if allowed || !resetAt.After(now) {
		return 0
	}
	d := resetAt.Sub(now)
	seconds := int(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	return seconds
}

func (k Key) Prefix() KeyPrefix {
	return k.prefix
}
