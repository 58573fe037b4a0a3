package identity

import (
	"net/url"
	"strings"
)

// NormalizeRelPath returns rel with exactly one level of percent-encoding per
// segment, so the result can be appended to an agent base URL as is. Inputs
// that are raw, already encoded, or use backslashes all converge.
func NormalizeRelPath(rel string) string {
	rel = strings.ReplaceAll(rel, `\`, "/")
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return ""
	}
	segs := strings.Split(rel, "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		if decoded, err := url.PathUnescape(seg); err == nil {
			seg = decoded
		}
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, escapeSegment(seg))
	}
	return strings.Join(out, "/")
}

// JoinURL appends an already normalized rel path to base without re-encoding.
func JoinURL(base, rel string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
}

func escapeSegment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("@!$&'()*+,;=:_-.~", c) >= 0
}
