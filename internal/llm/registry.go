package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownProvider = errors.New("unknown provider")

var (
	providersMu sync.RWMutex
	providers   = map[string]func() (Provider, error){}
)

// RegisterProvider makes a provider constructor available under name.
// Wire transports live outside this module and register themselves here.
func RegisterProvider(name string, factory func() (Provider, error)) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// NewProvider constructs the provider registered under name.
func NewProvider(name string) (Provider, error) {
	providersMu.RLock()
	factory, ok := providers[name]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProvider, name, ProviderNames())
	}
	return factory()
}

// ProviderNames lists the registered provider names, sorted.
func ProviderNames() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterProvider("noop", func() (Provider, error) { return noopProvider{}, nil })
}

// noopProvider skips every issue. Useful for dry runs and for exercising
// the pipeline without model credentials.
type noopProvider struct{}

func (noopProvider) Complete(_ context.Context, _ *Request) (*Response, error) {
	return &Response{Text: "SKIP: no model provider configured"}, nil
}
