package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/oauth-signin/internal/ioutil"
	"github.com/dgellow/oauth-signin/internal/log"
	"golang.org/x/sync/singleflight"
)

// DefaultDiscoveryTTL is how long a fetched discovery document is reused.
const DefaultDiscoveryTTL = time.Hour

// DiscoveryDocument holds the parts of an OpenID Provider Configuration
// document a handshake needs.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// Endpoints returns the document's endpoints.
func (d *DiscoveryDocument) Endpoints() Endpoints {
	return Endpoints{
		AuthURL:     d.AuthorizationEndpoint,
		TokenURL:    d.TokenEndpoint,
		UserInfoURL: d.UserInfoEndpoint,
	}
}

type discoveryEntry struct {
	doc       *DiscoveryDocument
	fetchedAt time.Time
}

// DiscoveryCache fetches and caches discovery documents. Concurrent lookups
// of the same URL share one fetch.
type DiscoveryCache struct {
	client *http.Client
	ttl    time.Duration
	now    func() time.Time

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]discoveryEntry
}

// NewDiscoveryCache creates a cache. A nil client uses a plain client with
// DefaultTimeout; a non-positive ttl selects DefaultDiscoveryTTL.
func NewDiscoveryCache(client *http.Client, ttl time.Duration) *DiscoveryCache {
	if client == nil {
		client = &http.Client{Transport: NewTransport(), Timeout: DefaultTimeout}
	}
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &DiscoveryCache{
		client:  client,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]discoveryEntry),
	}
}

// Get returns the discovery document at discoveryURL, fetching it when the
// cached copy is missing or stale.
func (c *DiscoveryCache) Get(ctx context.Context, discoveryURL string) (*DiscoveryDocument, error) {
	c.mu.RLock()
	entry, ok := c.entries[discoveryURL]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.doc, nil
	}

	// The shared fetch must not die with the first caller's context.
	ch := c.group.DoChan(discoveryURL, func() (any, error) {
		timeout := c.client.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		doc, err := fetchDiscovery(fetchCtx, c.client, discoveryURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[discoveryURL] = discoveryEntry{doc: doc, fetchedAt: c.now()}
		c.mu.Unlock()

		log.LogDebugWithFields("idp", "Fetched OIDC discovery document", map[string]any{
			"url":    discoveryURL,
			"issuer": doc.Issuer,
		})
		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DiscoveryDocument), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fetchDiscovery(ctx context.Context, client *http.Client, discoveryURL string) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, ioutil.Excerpt(resp.Body, maxErrorBody))
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	return &doc, nil
}
