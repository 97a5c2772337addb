package model

import (
	"context"
	"fmt"
	"sync"
)

type (
	// Credentials is a closed sum over the four credential kinds an
	// adapter may be configured with.
	Credentials interface {
		isCredentials()
	}

	// StaticCredentials holds bytes loaded once at startup (an API key or
	// a PEM-encoded service-account private key).
	StaticCredentials struct {
		Bytes []byte

		// GCPServiceAccount carries the parsed fields needed to mint
		// Vertex JWTs when this credential backs a vertexgemini adapter.
		GCPServiceAccount *GCPServiceAccount
	}

	// DynamicCredentials names a key looked up per request from a
	// caller-supplied credential map.
	DynamicCredentials struct {
		KeyName string
	}

	// SDKCredentials defers to an external auth library that refreshes
	// tokens lazily (e.g. the AWS SDK's default credential chain).
	SDKCredentials struct{}

	// NoneCredentials is valid for tests only.
	NoneCredentials struct{}

	// GCPServiceAccount is the subset of a GCP service-account JSON key
	// required to mint a self-signed JWT.
	GCPServiceAccount struct {
		ClientEmail    string
		PrivateKeyID   string
		PrivateKeyPEM  []byte
		TokenAudience  string
	}
)

func (StaticCredentials) isCredentials()  {}
func (DynamicCredentials) isCredentials() {}
func (SDKCredentials) isCredentials()     {}
func (NoneCredentials) isCredentials()    {}

// ResolvedCredentials is what an adapter actually receives for a given
// call: the adapter's configured Credentials plus the per-request dynamic
// credential map.
type ResolvedCredentials struct {
	Credentials Credentials

	// DynamicValues is the caller-supplied credential map consulted when
	// Credentials is DynamicCredentials.
	DynamicValues map[string]string
}

// ErrAPIKeyMissing is returned when a DynamicCredentials lookup misses the
// caller-supplied credential map.
type ErrAPIKeyMissing struct {
	KeyName string
}

func (e *ErrAPIKeyMissing) Error() string {
	return fmt.Sprintf("model: api key %q missing from request credentials", e.KeyName)
}

// ResolveAPIKey extracts the bearer/API-key string for a ResolvedCredentials
// built over StaticCredentials or DynamicCredentials. Adapters that need an
// SDK-managed credential (Bedrock/SigV4) or a JWT (Vertex) bypass this
// helper and inspect Credentials directly.
func ResolveAPIKey(rc ResolvedCredentials) (string, error) {
	switch c := rc.Credentials.(type) {
	case StaticCredentials:
		return string(c.Bytes), nil
	case DynamicCredentials:
		v, ok := rc.DynamicValues[c.KeyName]
		if !ok || v == "" {
			return "", &ErrAPIKeyMissing{KeyName: c.KeyName}
		}
		return v, nil
	case NoneCredentials:
		return "", nil
	default:
		return "", fmt.Errorf("model: credential kind %T cannot be resolved to a bearer token", rc.Credentials)
	}
}

// RefreshCoalescer coalesces concurrent token-refresh calls for a single
// credential so that N goroutines racing to refresh an expired token incur
// exactly one upstream refresh.
type RefreshCoalescer struct {
	mu      sync.Mutex
	inFlight chan struct{}
	value    string
	err      error
}

// Do returns a cached value if still valid per isValid, otherwise invokes
// refresh exactly once across concurrent callers and caches the result.
func (c *RefreshCoalescer) Do(ctx context.Context, isValid func(string) bool, refresh func(context.Context) (string, error)) (string, error) {
	c.mu.Lock()
	if isValid(c.value) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	if c.inFlight != nil {
		ch := c.inFlight
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.value, c.err
	}
	ch := make(chan struct{})
	c.inFlight = ch
	c.mu.Unlock()

	v, err := refresh(ctx)

	c.mu.Lock()
	c.value, c.err = v, err
	c.inFlight = nil
	c.mu.Unlock()
	close(ch)

	return v, err
}
