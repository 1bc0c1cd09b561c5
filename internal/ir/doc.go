// Package ir provides the value model, canonical encoding, and content
// identifiers for prism resources.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - NO float types anywhere; numbers are int64
//   - NO null; absent fields are simply absent
//   - Canonical JSON follows RFC 8785 key ordering with NFC strings
//   - A CID is SHA-256 over a domain prefix and the canonical bytes
package ir
