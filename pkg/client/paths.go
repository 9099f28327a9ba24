package client

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// CheckPath rejects paths the API does not accept.
func CheckPath(p string) (string, error) {
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: %q contains a backslash", ErrInvalidPath, p)
	}
	if utf8.RuneCountInString(p) > protocol.MaxPathLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidPath, protocol.MaxPathLength)
	}
	return p, nil
}

// NormalizePath strips leading separators. Every one goes, so "//a" becomes "a".
func NormalizePath(p string) string {
	return strings.TrimLeft(p, "/")
}

// NormalizeDirPath strips all leading and trailing separators.
func NormalizeDirPath(p string) string {
	return strings.Trim(p, "/")
}

// cleanPath normalizes then checks p.
func cleanPath(p string, dir bool) (string, error) {
	if dir {
		p = NormalizeDirPath(p)
	} else {
		p = NormalizePath(p)
	}
	return CheckPath(p)
}

// APIURL builds host/VERSION/segments?params. Every segment is split on "/"
// and each element escaped; params are sorted by key. Endpoints listed in
// protocol.AlternateHosts go to the content host.
func APIURL(ssl bool, segments []string, params url.Values) string {
	host := protocol.Host
	alternates := protocol.AlternateHosts
	if ssl {
		host = protocol.SSLHost
		alternates = protocol.AlternateSSLHosts
	}
	if len(segments) > 0 {
		if alt, ok := alternates[segments[0]]; ok {
			host = alt
		}
	}
	return buildURL(host, segments, params)
}

// SigningURL is APIURL on the canonical API host, whatever the endpoint.
func SigningURL(ssl bool, segments []string, params url.Values) string {
	host := protocol.Host
	if ssl {
		host = protocol.SSLHost
	}
	return buildURL(host, segments, params)
}

func buildURL(host string, segments []string, params url.Values) string {
	parts := []string{protocol.Version}
	for _, seg := range segments {
		for _, elem := range strings.Split(seg, "/") {
			if elem == "" {
				continue
			}
			parts = append(parts, url.QueryEscape(elem))
		}
	}

	u := host + "/" + strings.Join(parts, "/")
	if len(params) > 0 {
		// Encode sorts by key
		u += "?" + params.Encode()
	}
	return strings.ReplaceAll(u, "+", "%20")
}

// destinationPath appends the basename of src when dst names a directory.
func destinationPath(src, dst string) string {
	if strings.HasSuffix(dst, "/") {
		return dst + path.Base(NormalizeDirPath(src))
	}
	return dst
}
