package idp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"
)

// DefaultTimeout bounds a single backchannel call when none is configured.
const DefaultTimeout = 10 * time.Second

// maxRedirects matches net/http's own limit.
const maxRedirects = 10

// ErrUntrustedRedirect is returned when a provider endpoint redirects to a
// host that is not one of the provider's configured hosts.
var ErrUntrustedRedirect = errors.New("redirect to untrusted host")

// ErrTooManyRedirects is returned when a provider endpoint redirects more
// than maxRedirects times.
var ErrTooManyRedirects = errors.New("too many redirects")

// NewTransport returns the connection pool shared by all backchannel calls.
// Certificate verification stays on; connections are kept alive across
// attempts.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewHTTPClient returns a client over transport that only follows redirects
// to trustedHosts and never downgrades from https to http.
func NewHTTPClient(transport http.RoundTripper, timeout time.Duration, trustedHosts []string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: trustedRedirects(trustedHosts),
	}
}

func trustedRedirects(hosts []string) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
		}
		if len(via) > 0 && via[0].URL.Scheme == "https" && req.URL.Scheme != "https" {
			return fmt.Errorf("%w: %s downgrades to %s", ErrUntrustedRedirect, req.URL.Host, req.URL.Scheme)
		}
		if !slices.Contains(hosts, req.URL.Host) {
			return fmt.Errorf("%w: %s", ErrUntrustedRedirect, req.URL.Host)
		}
		return nil
	}
}

// hostsOf returns the distinct hosts of the given endpoint URLs.
func hostsOf(endpoints ...string) []string {
	var hosts []string
	for _, e := range endpoints {
		u, err := url.Parse(e)
		if err != nil || u.Host == "" {
			continue
		}
		if !slices.Contains(hosts, u.Host) {
			hosts = append(hosts, u.Host)
		}
	}
	return hosts
}
