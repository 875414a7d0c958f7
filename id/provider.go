package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Provider generates job identities.
type Provider interface {
	NewID() string
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func() string

// NewID calls f.
func (f ProviderFunc) NewID() string { return f() }

// TypeID returns a provider that emits TypeIDs with the given prefix.
func TypeID(prefix Prefix) Provider {
	return ProviderFunc(func() string { return New(prefix).String() })
}

// UUIDv7 returns a provider that emits time-ordered UUIDs.
func UUIDv7() Provider {
	return ProviderFunc(func() string {
		u, err := uuid.NewV7()
		if err != nil {
			// NewV7 only fails when the random source does.
			panic(fmt.Sprintf("id: generate uuidv7: %v", err))
		}
		return u.String()
	})
}

// ProviderByName resolves a provider from its configuration name.
// An empty name selects the default TypeID provider.
func ProviderByName(name string) (Provider, error) {
	switch name {
	case "typeid", "":
		return TypeID(PrefixJob), nil
	case "uuid", "uuidv7":
		return UUIDv7(), nil
	default:
		return nil, fmt.Errorf("id: unknown provider %q", name)
	}
}
