package idp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/ioutil"
	"github.com/dgellow/oauth-signin/internal/urlutil"
	"golang.org/x/oauth2"
)

// maxErrorBody caps how much of a provider error body is kept for logs.
const maxErrorBody = 1024

// TokenResponse is the result of a successful code exchange.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	Scope       string
}

// String never includes the access token.
func (t *TokenResponse) String() string {
	return fmt.Sprintf("TokenResponse{TokenType: %q, Scope: %q}", t.TokenType, t.Scope)
}

// ExchangeCode redeems code at the token endpoint with a form-encoded POST
// carrying grant_type, code, redirect_uri, client_id and client_secret.
//
// A non-success response, or a success response without an access token,
// fails with ExchangeRejected. Transport faults, including timeouts and
// cancellation of ctx, fail with NetworkFailure.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	if code == "" {
		return nil, autherr.New(autherr.KindMissingCode, "authorization code is empty")
	}

	cfg := c.config
	cfg.RedirectURL = redirectURI

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	scope, _ := tok.Extra("scope").(string)
	return &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       scope,
	}, nil
}

func classifyExchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		e := &autherr.Error{
			Kind:                autherr.KindExchangeRejected,
			ProviderCode:        rErr.ErrorCode,
			ProviderDescription: rErr.ErrorDescription,
			Message:             "token endpoint rejected the code",
		}
		if rErr.Response != nil {
			e.StatusCode = rErr.Response.StatusCode
			e.Message = fmt.Sprintf("token endpoint returned status %d: %s",
				rErr.Response.StatusCode, ioutil.Truncate(string(rErr.Body), maxErrorBody))
		}
		return e
	}
	return classifyTransportError(autherr.KindExchangeRejected, "token exchange", err)
}

// classifyTransportError maps an error from an HTTP round trip to
// NetworkFailure when it happened in transit, or to rejected otherwise.
func classifyTransportError(rejected autherr.Kind, op string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// The query may carry appsecret_proof.
		err = &url.Error{Op: urlErr.Op, URL: urlutil.StripQuery(urlErr.URL), Err: urlErr.Err}
	}
	if errors.Is(err, ErrUntrustedRedirect) {
		return autherr.Wrap(rejected, err, op+" was redirected off the provider")
	}
	if errors.Is(err, ErrTooManyRedirects) {
		return autherr.Wrap(rejected, err, op+" was redirected too many times")
	}
	if isCertificateError(err) {
		return autherr.Wrap(rejected, err, op+" presented an untrusted certificate")
	}
	if isNetworkError(err) {
		return autherr.Wrap(autherr.KindNetworkFailure, err, op+" failed in transit")
	}
	return autherr.Wrap(rejected, err, op+" failed")
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &verifyErr) || errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidErr)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// readErrorBody returns a bounded excerpt of an error response for logs.
func readErrorBody(r io.Reader) string {
	return ioutil.Excerpt(r, maxErrorBody)
}
