package protocol

import (
	"fmt"
	"sync"
)

// Factory constructs a Client for one account. opts carries the resolved
// backend settings the concrete implementation needs.
type Factory func(opts ClientOptions) (Client, error)

// ClientOptions are the backend-agnostic settings passed to a Factory.
type ClientOptions struct {
	AccountID       string
	BridgeURL       string
	CredentialsPath string // file the client persists session credentials to
}

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterBackend registers a Factory under a backend enum value.
// Called from backend package init.
func RegisterBackend(name string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[name] = f
}

// NewClient constructs a Client for the named backend.
func NewClient(backend string, opts ClientOptions) (Client, error) {
	factoryMu.RLock()
	f, ok := factories[backend]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown protocol backend %q", backend)
	}
	return f(opts)
}
