package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// passthroughHeaders are copied from the origin response to the client.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

const (
	fullRange  = "bytes=0-"
	firstByte  = "bytes=0-0"
	noStore    = "no-store"
	rangeBytes = "bytes"
)

// copyAllowed copies the allow-listed headers and applies the relay defaults.
func copyAllowed(dst, src http.Header) {
	for _, k := range passthroughHeaders {
		if v := src.Values(k); len(v) > 0 {
			dst[k] = append([]string(nil), v...)
		}
	}
	dst.Set("Accept-Ranges", rangeBytes)
	if dst.Get("Cache-Control") == "" {
		dst.Set("Cache-Control", noStore)
	}
}

// ValidateRange checks a client Range header of the form
// "bytes=a-b[,c-d...]" with suffix ("-n") and open ("a-") specs allowed.
func ValidateRange(h string) error {
	h = strings.TrimSpace(h)
	unit, specs, ok := strings.Cut(h, "=")
	if !ok || strings.TrimSpace(unit) != rangeBytes {
		return fmt.Errorf("unsupported range unit in %q", h)
	}
	if strings.TrimSpace(specs) == "" {
		return errors.New("empty range set")
	}
	for _, spec := range strings.Split(specs, ",") {
		if err := validateSpec(strings.TrimSpace(spec)); err != nil {
			return fmt.Errorf("range %q: %w", h, err)
		}
	}
	return nil
}

func validateSpec(spec string) error {
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return errors.New("missing '-'")
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	switch {
	case first == "" && last == "":
		return errors.New("empty spec")
	case first == "":
		n, err := parsePos(last)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("zero-length suffix")
		}
		return nil
	}
	start, err := parsePos(first)
	if err != nil {
		return err
	}
	if last == "" {
		return nil
	}
	end, err := parsePos(last)
	if err != nil {
		return err
	}
	if end < start {
		return errors.New("end before start")
	}
	return nil
}

func parsePos(s string) (int64, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("bad position %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// rangeCapable reads a probe response.
func rangeCapable(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}
	if resp.Header.Get("Content-Range") != "" {
		return true
	}
	for _, v := range resp.Header.Values("Accept-Ranges") {
		for _, unit := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(unit), rangeBytes) {
				return true
			}
		}
	}
	return false
}
