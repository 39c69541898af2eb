// Package autoloader discovers component kinds that have not yet been
// registered, resolves each to a loadable module location, and loads it
// on demand as the kind becomes a priority candidate. It is the Go-side
// equivalent of a browser's undefined-custom-element autoloader: a
// fsnotify.Watcher stands in for the mutation observer, and a Scheduler
// takes the place of the viewport-proximity (IntersectionObserver) gate.
package autoloader

import "fmt"

// DefaultRootMargin is the default priority-distance threshold at which a
// discovered kind becomes an eager-load candidate. Kept numerically
// anchored to the browser original's 600-pixel default even though it no
// longer measures pixels.
const DefaultRootMargin = 600

// DefaultExtension is the module file extension used when none is given.
const DefaultExtension = ".so"

// ResolveFunc is a custom per-kind resolver. It returns (location, true)
// to override the default resolution, or ("", false) to fall through to
// the next step in the resolution order.
type ResolveFunc func(kind string) (string, bool)

// Config controls where and how autoloader resolves and loads component
// modules. Grounded on config.Option's functional-options idiom.
type Config struct {
	BaseURL         string
	ComponentsPath  string
	Extension       string
	RootMargin      int
	ComponentPaths  map[string]string
	ResolveComponent ResolveFunc
}

// DefaultConfig returns a Config with the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Extension:  DefaultExtension,
		RootMargin: DefaultRootMargin,
	}
}

// Resolve applies the resolution order exactly as specified: per-request
// override, then custom resolver, then explicit ComponentPaths, then the
// default template.
func (c Config) Resolve(kind string, override string) string {
	if override != "" {
		return override
	}
	if c.ResolveComponent != nil {
		if loc, ok := c.ResolveComponent(kind); ok {
			return loc
		}
	}
	if loc, ok := c.ComponentPaths[kind]; ok {
		return loc
	}
	ext := c.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s%s%s%s", c.BaseURL, c.ComponentsPath, kind, ext)
}
