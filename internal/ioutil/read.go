package ioutil

import (
	"fmt"
	"io"
	"strings"
)

// Excerpt reads at most limit bytes from r for inclusion in error messages
// and logs. Surrounding whitespace is trimmed and "..." marks a body longer
// than limit. A read failure is described instead of silenced.
func Excerpt(r io.Reader, limit int) string {
	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return Truncate(string(body), limit)
}

// Truncate trims s and cuts it to n bytes, marking the cut with "...".
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
