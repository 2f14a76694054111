// Package horosafe guards snipebot's boundaries: coin symbols and worker IDs
// that end up in URL paths and directory names, venue responses read into
// memory, and profile directories removed with os.RemoveAll.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxResponseBody caps reads of venue API responses.
const MaxResponseBody int64 = 1 << 20

const maxIdentifier = 64

var (
	ErrInvalidIdentifier = errors.New("horosafe: invalid identifier")
	ErrOutsideBase       = errors.New("horosafe: path outside base directory")
	ErrUnsafeScheme      = errors.New("horosafe: scheme must be http or https")
	ErrTooLarge          = errors.New("horosafe: body too large")
)

// ValidateIdentifier accepts 1 to 64 characters of [A-Za-z0-9_.-], except
// the names "." and "..".
func ValidateIdentifier(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	case len(s) > maxIdentifier:
		return fmt.Errorf("%w: longer than %d", ErrInvalidIdentifier, maxIdentifier)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	if strings.IndexFunc(s, notIdent) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

func notIdent(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return false
	}
	return r != '_' && r != '-' && r != '.'
}

// Within returns nil when path lies below base. base itself does not count.
func Within(base, path string) error {
	b, err := filepath.Abs(base)
	if err != nil {
		return err
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(b, p)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %s not below %s", ErrOutsideBase, p, b)
	}
	return nil
}

// ValidateBaseURL checks that raw is an absolute http(s) URL with a host.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("horosafe: base url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: base url %q has no host", raw)
	}
	return nil
}

// LimitedReadAll reads r whole, failing with ErrTooLarge past max bytes.
func LimitedReadAll(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, max)
	}
	return data, nil
}
