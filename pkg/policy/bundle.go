package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Rule is a single named guard rule. Expression is a CEL predicate over
// the action, agent, and timestamp bindings; a false result denies.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Priority    int    `json:"priority"` // higher evaluates first
	Enabled     bool   `json:"enabled"`
}

// Bundle is a versioned collection of guard rules, loadable from disk so
// policy changes ship without a redeploy.
type Bundle struct {
	Version   string    `json:"version"`
	Name      string    `json:"name"`
	Rules     []Rule    `json:"rules"`
	CreatedAt time.Time `json:"created_at"`
}

// Loader loads rule bundles from a directory of JSON files.
type Loader struct {
	mu        sync.RWMutex
	bundles   map[string]*Bundle
	bundleDir string
	onReload  func(*Bundle)
}

// NewLoader creates a bundle loader for the given directory.
func NewLoader(bundleDir string) *Loader {
	return &Loader{
		bundles:   make(map[string]*Bundle),
		bundleDir: bundleDir,
	}
}

// OnReload registers a callback invoked whenever a bundle is (re)loaded.
func (l *Loader) OnReload(fn func(*Bundle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// LoadAll loads every .json bundle file in the configured directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.bundleDir)
	if err != nil {
		return fmt.Errorf("policy: read dir %s: %w", l.bundleDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(l.bundleDir, entry.Name())
		if err := l.LoadFile(path); err != nil {
			return fmt.Errorf("policy: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// LoadFile loads one bundle file. Bundles without a name take the file's
// base name.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}
	if bundle.Name == "" {
		bundle.Name = filepath.Base(path)
	}

	l.mu.Lock()
	l.bundles[bundle.Name] = &bundle
	callback := l.onReload
	l.mu.Unlock()

	if callback != nil {
		callback(&bundle)
	}
	return nil
}

// Bundle returns a loaded bundle by name.
func (l *Loader) Bundle(name string) (*Bundle, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bundles[name]
	return b, ok
}

// ActiveRules returns the enabled rules across all bundles, highest
// priority first.
func (l *Loader) ActiveRules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var rules []Rule
	for _, b := range l.bundles {
		for _, r := range b.Rules {
			if r.Enabled {
				rules = append(rules, r)
			}
		}
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return rules
}

// Expressions returns the active rules' CEL expressions in evaluation
// order, ready to hand to NewGuard.
func (l *Loader) Expressions() []string {
	rules := l.ActiveRules()
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Expression)
	}
	return out
}
