package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainJSON   = "prism/resource/json/v1"
	DomainRaw    = "prism/resource/raw/v1"
	DomainParams = "prism/params/v1"
)

// CIDPrefix names the hash algorithm of every CID.
const CIDPrefix = "sha256:"

const cidLen = len(CIDPrefix) + 2*sha256.Size

// CID is a content identifier: "sha256:" followed by 64 lowercase hex digits.
type CID string

func (c CID) String() string { return string(c) }

// Short returns an abbreviated form for logs.
func (c CID) Short() string {
	if len(c) < len(CIDPrefix)+12 {
		return string(c)
	}
	return string(c[len(CIDPrefix) : len(CIDPrefix)+12])
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveCID computes the CID of canonical bytes. Structured and raw resources
// hash under different domains so a raw blob can never collide with a JSON
// document that happens to share its bytes.
func DeriveCID(c Canonical) CID {
	domain := DomainRaw
	if c.Kind == KindJSON {
		domain = DomainJSON
	}
	return CID(CIDPrefix + hashWithDomain(domain, c.Bytes))
}

// CIDOf canonicalizes data and derives its CID.
func CIDOf(data []byte) (CID, Canonical, error) {
	c, err := Canonicalize(data)
	if err != nil {
		return "", Canonical{}, err
	}
	return DeriveCID(c), c, nil
}

// MustCIDOf is like CIDOf but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCIDOf(data []byte) CID {
	cid, _, err := CIDOf(data)
	if err != nil {
		panic(err)
	}
	return cid
}

// IsCID reports whether s is shaped like a CID.
func IsCID(s string) bool {
	if len(s) != cidLen || !strings.HasPrefix(s, CIDPrefix) {
		return false
	}
	for i := len(CIDPrefix); i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseCID validates s and returns it as a CID.
func ParseCID(s string) (CID, error) {
	if !IsCID(s) {
		return "", fmt.Errorf("invalid CID %q: want %s<64 hex>", s, CIDPrefix)
	}
	return CID(s), nil
}

// ParamsHash computes the identity of a bound parameter set. Used for catalog
// keys and cache keys. The result is plain hex, so it is never mistaken for a
// reference when stored inside a resource.
func ParamsHash(params IRObject) (string, error) {
	if params == nil {
		params = IRObject{}
	}
	canonical, err := MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("params hash: %w", err)
	}
	return hashWithDomain(DomainParams, canonical), nil
}
