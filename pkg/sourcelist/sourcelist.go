// Package sourcelist reads the line-oriented file of candidate image URLs.
package sourcelist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when the source list file does not exist.
	ErrNotFound = errors.New("source list not found")
	// ErrNoValidEntries is returned when no line of the file is a usable URL.
	ErrNoValidEntries = errors.New("no valid URLs in source list")
)

// Load reads the file at path and returns the valid candidate URLs in file order.
// The file is read on every call.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to open source list '%s': %w", path, err)
	}
	defer f.Close()

	urls, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read source list '%s': %w", path, err)
	}
	return urls, nil
}

// Parse extracts candidate URLs from r, one per line. Blank lines, comment
// lines and lines that are not absolute URLs are skipped. Lines have no
// length limit.
func Parse(r io.Reader) ([]string, error) {
	var urls []string
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") && Valid(line) {
			urls = append(urls, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
	}

	if len(urls) == 0 {
		return nil, ErrNoValidEntries
	}
	return urls, nil
}

// Valid reports whether s is a well-formed absolute URL with a scheme and a host.
func Valid(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Opaque == ""
}
