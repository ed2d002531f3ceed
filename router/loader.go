// Package router assembles the HTTP handler: the global middleware chain, the
// request gate and every registered route provider.
package router

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// RouteProvider contributes the routes of one feature. The loader mounts
// them under /<lowercased provider name>.
type RouteProvider interface {
	Routes() chi.Router
}

// Loader collects route providers by name.
type Loader struct {
	logger    *logrus.Logger
	providers map[string]RouteProvider
}

// NewLoader creates an empty Loader.
func NewLoader(logger *logrus.Logger) *Loader {
	return &Loader{
		logger:    logger,
		providers: make(map[string]RouteProvider),
	}
}

// Register adds p under name. A nil provider is skipped with a warning so a
// feature that failed to initialise does not take the others down. Names are
// case-insensitive and must be unique.
func (l *Loader) Register(name string, p RouteProvider) error {
	prefix, err := prefixFor(name)
	if err != nil {
		return err
	}
	if isNil(p) {
		l.logger.WithField("provider", name).Warn("router: no routes for provider, skipping")
		return nil
	}
	if _, taken := l.providers[prefix]; taken {
		return fmt.Errorf("router: provider %q registered twice", name)
	}
	l.providers[prefix] = p
	return nil
}

// Mount attaches every provider to r in prefix order and returns the
// mounted prefixes.
func (l *Loader) Mount(r chi.Router) []string {
	prefixes := make([]string, 0, len(l.providers))
	for prefix := range l.providers {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		r.Mount(prefix, l.providers[prefix].Routes())
		l.logger.WithField("prefix", prefix).Info("router: routes loaded")
	}
	return prefixes
}

func prefixFor(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/ ") {
		return "", fmt.Errorf("router: invalid provider name %q", name)
	}
	return "/" + strings.ToLower(name), nil
}

// isNil also catches typed nil pointers wrapped in the interface.
func isNil(p RouteProvider) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
