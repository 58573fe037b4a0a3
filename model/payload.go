package model

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// ErrInvalidPayload marks boundary validation failures.
var ErrInvalidPayload = errors.New("invalid payload")

// ValidUserID reports whether id can be used as a user key and file name.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id) && id != "." && id != ".."
}

// ScanPayload is the body of POST /submit-scan.
type ScanPayload struct {
	UserID         string  `json:"user_id"`
	Library        []Track `json:"library"`
	LibraryVersion *int64  `json:"library_version,omitempty"`
	Replace        bool    `json:"replace,omitempty"`
}

// Validate rejects payloads that must not reach the catalog.
func (p *ScanPayload) Validate() error {
	if !ValidUserID(p.UserID) {
		return fmt.Errorf("%w: user_id %q", ErrInvalidPayload, p.UserID)
	}
	if p.LibraryVersion != nil && *p.LibraryVersion <= 0 {
		return fmt.Errorf("%w: library_version must be positive", ErrInvalidPayload)
	}
	for i := range p.Library {
		if strings.TrimSpace(p.Library[i].TrackID) == "" {
			return fmt.Errorf("%w: library[%d] has no track_id", ErrInvalidPayload, i)
		}
	}
	return nil
}

// AnnouncePayload is the body of POST /agent/announce.
type AnnouncePayload struct {
	UserID  string `json:"user_id"`
	BaseURL string `json:"base_url"`
}

// Validate checks the user id and that base_url is an absolute http(s) URL.
func (p *AnnouncePayload) Validate() error {
	if !ValidUserID(p.UserID) {
		return fmt.Errorf("%w: user_id %q", ErrInvalidPayload, p.UserID)
	}
	u, err := url.Parse(strings.TrimSpace(p.BaseURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: base_url %q", ErrInvalidPayload, p.BaseURL)
	}
	return nil
}
