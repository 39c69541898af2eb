package autoloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/aquamarinepk/evbus/httpclient"
	"github.com/aquamarinepk/evbus/log"
)

// kindState is a component kind's position in the discover/load
// lifecycle: undiscovered → pending → loading → defined | failed.
type kindState int

const (
	stateUndiscovered kindState = iota
	statePending
	stateLoading
	stateDefined
	stateFailed
)

func (s kindState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateLoading:
		return "loading"
	case stateDefined:
		return "defined"
	case stateFailed:
		return "failed"
	default:
		return "undiscovered"
	}
}

// Loader discovers component manifests under a root directory, tracks
// their proximity to being needed via a Scheduler, and loads each kind
// at most once — in-flight loads for the same kind are shared. Grounded
// on pubsub/nats.Broker's connect/subscribe/close lifecycle, adapted
// from a pub/sub connection lifecycle to a discover/load/register one.
type Loader struct {
	cfg      Config
	registry *Registry
	sched    *Scheduler
	log      log.Logger
	http     *httpclient.Client

	mu       sync.Mutex
	state    map[string]kindState
	override map[string]string

	group    singleflight.Group
	watcher  *fsnotify.Watcher
	watchDir string
}

// NewLoader returns a Loader that resolves and loads modules according
// to cfg, registering successful loads into registry.
func NewLoader(cfg Config, registry *Registry, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Loader{
		cfg:      cfg,
		registry: registry,
		sched:    NewScheduler(cfg.RootMargin),
		log:      logger.With("component", "autoloader"),
		http:     httpclient.New("", logger),
		state:    make(map[string]kindState),
		override: make(map[string]string),
	}
}

// Scan walks root once, discovering a pending kind for each regular file
// whose base name contains a hyphen — the marker this module uses for a
// custom-element-shaped manifest, exactly as "elements whose tag
// contains a hyphen" marks a custom element in the spec's browser
// original.
func (l *Loader) Scan(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("autoloader: cannot scan %s: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		kind := kindFromManifest(entry.Name())
		if kind == "" {
			continue
		}
		l.discover(kind)
	}
	return nil
}

// Watch starts an fsnotify watcher on root; newly created manifest files
// are discovered as they appear, mirroring a mutation observer watching
// for additions. It blocks until ctx is done or the watcher errors out.
func (l *Loader) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("autoloader: cannot create watcher: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return fmt.Errorf("autoloader: cannot watch %s: %w", root, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.watchDir = root
	l.mu.Unlock()

	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			kind := kindFromManifest(filepath.Base(event.Name))
			if kind == "" {
				continue
			}
			l.discover(kind)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Errorf("watch error: %v", err)
		}
	}
}

// Stop releases the fsnotify watcher started by Watch, if any.
func (l *Loader) Stop() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// discover moves kind from undiscovered to pending and tracks it with
// the scheduler at the RootMargin threshold itself — elements found by
// an initial Scan or a Watch mutation event are assumed already within
// loading distance, the same way content already present in the initial
// document is usually near the top of the viewport. Callers that want
// viewport-style deferral should use discoverDeferred instead.
func (l *Loader) discover(kind string) {
	l.discoverAt(kind, l.cfg.RootMargin)
}

// discoverDeferred tracks kind as pending but starts it outside the
// RootMargin threshold, requiring an explicit UpdateProximity call
// before it becomes a load candidate — the viewport-gated path.
func (l *Loader) discoverDeferred(kind string) {
	l.discoverAt(kind, l.cfg.RootMargin+1)
}

func (l *Loader) discoverAt(kind string, distance int) {
	if l.registry.IsDefined(kind) {
		return
	}

	l.mu.Lock()
	if _, seen := l.state[kind]; seen {
		l.mu.Unlock()
		return
	}
	l.state[kind] = statePending
	l.mu.Unlock()

	l.log.Debugf("discovered kind %q, now pending", kind)
	l.sched.Track(kind, distance)
	l.checkDue()
}

// DiscoverDeferred is the public entry point for discoverDeferred: it
// tracks kind as pending without an immediate load, waiting for a
// UpdateProximity call to report it has crossed RootMargin.
func (l *Loader) DiscoverDeferred(kind string) {
	l.discoverDeferred(kind)
}

// UpdateProximity reports kind's current distance signal — the
// IntersectionObserver/rootMargin equivalent — and triggers a load if it
// has crossed the threshold.
func (l *Loader) UpdateProximity(kind string, distance int) {
	if !l.sched.IsTracked(kind) {
		return
	}
	l.sched.Track(kind, distance)
	l.checkDue()
}

// SetOverride records a per-kind override location, taking precedence
// over every other resolution step — the data-attribute override
// equivalent.
func (l *Loader) SetOverride(kind, location string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.override[kind] = location
}

// State reports kind's current lifecycle state.
func (l *Loader) State(kind string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state[kind].String()
}

// Reload resets a failed kind back to pending and re-attempts its load.
// It is a no-op for kinds that are not in the failed state.
func (l *Loader) Reload(kind string) {
	l.mu.Lock()
	if l.state[kind] != stateFailed {
		l.mu.Unlock()
		return
	}
	l.state[kind] = statePending
	l.mu.Unlock()

	l.sched.Track(kind, l.cfg.RootMargin)
	l.checkDue()
}

func (l *Loader) checkDue() {
	for _, kind := range l.sched.Due() {
		l.mu.Lock()
		if l.state[kind] != statePending {
			l.mu.Unlock()
			continue
		}
		l.state[kind] = stateLoading
		l.mu.Unlock()

		l.sched.Untrack(kind)
		go l.load(kind)
	}
}

// load resolves and loads kind's module, collapsing concurrent loads of
// the same kind via singleflight so "in-flight loads are shared".
func (l *Loader) load(kind string) {
	_, _, _ = l.group.Do(kind, func() (any, error) {
		l.mu.Lock()
		override := l.override[kind]
		l.mu.Unlock()

		location := l.cfg.Resolve(kind, override)

		var err error
		if l.cfg.BaseURL == "" {
			err = l.loadLocal(kind, location)
		} else {
			err = l.loadRemote(kind, location)
		}

		l.mu.Lock()
		if err != nil {
			l.state[kind] = stateFailed
		} else {
			l.state[kind] = stateDefined
		}
		l.mu.Unlock()

		if err != nil {
			l.log.Errorf("load %q from %s failed: %v", kind, location, err)
		} else {
			l.log.Infof("loaded %q from %s", kind, location)
		}
		return nil, err
	})
}

// loadLocal opens a compiled plugin unit and, if it exposes a "New"
// symbol, registers it as kind's Constructor. A plugin with no "New"
// symbol is assumed self-registering (it calls Registry.Define itself
// from an init function), mirroring "if the module self-registers...
// the autoloader does nothing further".
func (l *Loader) loadLocal(kind, location string) error {
	p, err := plugin.Open(location)
	if err != nil {
		return fmt.Errorf("open plugin: %w", err)
	}

	sym, err := p.Lookup("New")
	if err != nil {
		if l.registry.IsDefined(kind) {
			return nil
		}
		return fmt.Errorf("plugin %s exposes no New symbol and did not self-register", location)
	}

	ctor, ok := sym.(func() (any, error))
	if !ok {
		return fmt.Errorf("plugin %s's New symbol has an unexpected signature", location)
	}

	return l.registry.Define(kind, Constructor(ctor))
}

// loadRemote fetches a module's source over HTTP. A module served this
// way is expected to self-register; a successful, non-empty fetch marks
// kind defined.
func (l *Loader) loadRemote(kind, location string) error {
	body, err := l.http.FetchModule(context.Background(), location)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty module body for %s", location)
	}
	if l.registry.IsDefined(kind) {
		return nil
	}
	return l.registry.Define(kind, nil)
}

func kindFromManifest(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.Contains(base, "-") {
		return ""
	}
	return base
}
