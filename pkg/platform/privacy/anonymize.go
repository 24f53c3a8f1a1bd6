// Package privacy reduces personal data (IP addresses, user agents) to the minimum
// needed for consent proof and abuse throttling.
package privacy

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"
)

// AnonymizeIP truncates an IP address for logging.
//
// IPv4 keeps the /24 network ("192.168.1.47" -> "192.168.1.0"); IPv6 keeps the
// /48 prefix ("2001:db8:85a3::8a2e:370:7334" -> "2001:0db8:85a3::").
// Returns "unknown" for empty input and "invalid" for unparseable input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.0", b[0], b[1], b[2])
	}
	b := addr.As16()
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::", b[0], b[1], b[2], b[3], b[4], b[5])
}

// Hasher produces keyed, non-reversible digests of identifiers that must be
// comparable over time (same IP -> same hash) without being stored in clear.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher. The key is truncated to 64 bytes, the BLAKE2b maximum.
func NewHasher(key string) *Hasher {
	k := []byte(key)
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return &Hasher{key: k}
}

// HashIP returns the hex BLAKE2b-256 digest of the normalized IP.
// An empty or unparseable IP hashes to an empty string.
func (h *Hasher) HashIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	return h.Hash(addr.Unmap().String())
}

// Hash returns the hex BLAKE2b-256 digest of value under the hasher key.
func (h *Hasher) Hash(value string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// only returned for keys over 64 bytes, which NewHasher prevents
		panic(err)
	}
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// SummarizeUserAgent reduces a raw User-Agent header to "browser version (os)",
// enough to evidence a consent decision without retaining a fingerprint.
func SummarizeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}
	summary := strings.TrimSpace(name + " " + version)
	if osName := ua.OSInfo().Name; osName != "" {
		summary += " (" + osName + ")"
	}
	return summary
}
