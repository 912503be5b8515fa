// Package record defines the data model shared by the store, the queue and the engine.
package record

import (
	"fmt"
	"sort"
	"strings"
)

// Collection names a group of records that maps to one remote endpoint.
type Collection string

const (
	Products   Collection = "products"
	Categories Collection = "categories"
	Suppliers  Collection = "suppliers"
	Customers  Collection = "customers"
	Warehouses Collection = "warehouses"
	Sales      Collection = "sales"
)

var allCollections = []Collection{Products, Categories, Suppliers, Customers, Warehouses, Sales}

// All returns every known collection in a stable order.
func All() []Collection {
	out := make([]Collection, len(allCollections))
	copy(out, allCollections)
	return out
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range allCollections {
		if c == known {
			return true
		}
	}
	return false
}

func (c Collection) String() string { return string(c) }

// ParseCollection converts a name to a Collection.
func ParseCollection(name string) (Collection, error) {
	c := Collection(strings.ToLower(strings.TrimSpace(name)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

// Endpoints maps each collection to its remote path.
type Endpoints map[Collection]string

// DefaultEndpoints returns the /api/<collection> layout the remote service exposes.
func DefaultEndpoints() Endpoints {
	e := make(Endpoints, len(allCollections))
	for _, c := range allCollections {
		e[c] = "/api/" + string(c)
	}
	return e
}

// Path returns the endpoint for c.
func (e Endpoints) Path(c Collection) (string, error) {
	p, ok := e[c]
	if !ok || p == "" {
		return "", fmt.Errorf("no endpoint configured for collection %q", c)
	}
	return p, nil
}

// With returns a copy of e with the given overrides applied.
func (e Endpoints) With(overrides map[Collection]string) Endpoints {
	out := make(Endpoints, len(e)+len(overrides))
	for c, p := range e {
		out[c] = p
	}
	for c, p := range overrides {
		out[c] = "/" + strings.Trim(p, "/")
	}
	return out
}

// Validate checks that every known collection has an endpoint and no path is shared.
func (e Endpoints) Validate() error {
	seen := make(map[string]Collection, len(e))
	keys := make([]string, 0, len(e))
	for c := range e {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := Collection(k)
		if !c.Valid() {
			return fmt.Errorf("endpoint for unknown collection %q", c)
		}
		p := e[c]
		if other, dup := seen[p]; dup {
			return fmt.Errorf("collections %q and %q share endpoint %q", other, c, p)
		}
		seen[p] = c
	}
	for _, c := range allCollections {
		if _, ok := e[c]; !ok {
			return fmt.Errorf("no endpoint configured for collection %q", c)
		}
	}
	return nil
}
