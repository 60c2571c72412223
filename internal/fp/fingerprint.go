package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
)

// NormalizeURL trims whitespace and lowercases the scheme and host. The
// path and query are left alone since servers may treat them case-sensitively.
func NormalizeURL(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// NormalizeTarget trims whitespace and cleans local paths with filepath.Clean.
// Bucket targets ("mem://...", "s3://...") are only trimmed.
func NormalizeTarget(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, "://") {
		return p
	}
	return filepath.Clean(p)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized url
// and target. It identifies duplicate download requests.
func Fingerprint(rawURL, target string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeURL(rawURL)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeTarget(target)))
	return hex.EncodeToString(h.Sum(nil))
}
