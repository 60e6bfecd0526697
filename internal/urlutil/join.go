package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath joins base and p, handling trailing and leading slashes. The query
// and fragment of base are dropped.
func JoinPath(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = path.Join("/", u.Path, p)
	// Preserve trailing slash if p had one
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// StripQuery returns raw without its query and fragment. It works on
// unparseable input too, so it is safe for redacting error messages.
func StripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}
