package ratelimit

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "1m" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RoutePolicy is the budget for one route class.
type RoutePolicy struct {
	Window Duration `yaml:"window"`
	Max    int      `yaml:"max"`
}

// Policy maps route classes to budgets. Credential covers the
// authentication endpoints themselves, which get the tightest budget.
type Policy struct {
	Anonymous     RoutePolicy `yaml:"anonymous"`
	Authenticated RoutePolicy `yaml:"authenticated"`
	Credential    RoutePolicy `yaml:"credential"`
}

// DefaultPolicy returns the built-in budgets used when no policy file is
// configured.
func DefaultPolicy() Policy {
	return Policy{
		Anonymous:     RoutePolicy{Window: Duration(time.Minute), Max: 60},
		Authenticated: RoutePolicy{Window: Duration(time.Minute), Max: 300},
		Credential:    RoutePolicy{Window: Duration(15 * time.Minute), Max: 10},
	}
}

// Validate checks the policy for unusable budgets.
func (p Policy) Validate() error {
	for name, rp := range map[string]RoutePolicy{
		"anonymous":     p.Anonymous,
		"authenticated": p.Authenticated,
		"credential":    p.Credential,
	} {
		if rp.Max <= 0 {
			return fmt.Errorf("%s: max must be positive", name)
		}
		if rp.Window.Std() <= 0 {
			return fmt.Errorf("%s: window must be positive", name)
		}
	}
	return nil
}

// LoadPolicy reads a policy from a YAML file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// PolicyStore holds the active policy and optionally hot-reloads it when
// the backing file changes. Reads are lock-free.
type PolicyStore struct {
	current atomic.Value // Policy
	path    string
	logger  *zap.Logger

	mu       sync.Mutex
	watching bool
}

// NewPolicyStore creates a store seeded with p. path may be empty when
// no file backs the policy.
func NewPolicyStore(p Policy, path string, logger *zap.Logger) *PolicyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PolicyStore{path: path, logger: logger}
	s.current.Store(p)
	return s
}

// Current returns the active policy.
func (s *PolicyStore) Current() Policy {
	return s.current.Load().(Policy)
}

// Watch reloads the policy file on change until ctx is cancelled. A bad
// edit keeps the previous policy in effect.
func (s *PolicyStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return fmt.Errorf("no policy file to watch")
	}

	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	s.watching = true
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	s.logger.Info("watching rate limit policy file", zap.String("path", s.path))

	go func() {
		defer watcher.Close()
		defer func() {
			s.mu.Lock()
			s.watching = false
			s.mu.Unlock()
		}()

		// Editors fire bursts of events per save; debounce them.
		var timer *time.Timer
		reload := func() {
			p, err := LoadPolicy(s.path)
			if err != nil {
				s.logger.Warn("rate limit policy reload failed, keeping previous",
					zap.String("path", s.path),
					zap.Error(err),
				)
				return
			}
			s.current.Store(p)
			s.logger.Info("rate limit policy reloaded", zap.String("path", s.path))
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
