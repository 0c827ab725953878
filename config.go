package bbdl

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigLocked is returned by Config.Set after Config.Lock.
var ErrConfigLocked = errors.New("bbdl: config is locked")

// EnvPrefix is the environment variable prefix read by Config.LoadEnv.
// BBDL__BBG__DATA__FTP__USERNAME sets the key bbg.data.ftp.username.
const EnvPrefix = "BBDL"

// Config is a nested settings tree addressed by dotted keys
// ("bbg.data.ftp.username"). It is populated from YAML files and the
// environment, then locked before clients are built from it.
type Config struct {
	mu     sync.RWMutex
	root   map[string]any
	locked bool
}

// NewConfig returns an empty, unlocked Config.
func NewConfig() *Config {
	return &Config{root: make(map[string]any)}
}

// LoadConfig loads a .env file when present, then reads the YAML file at
// path with ${VAR} references expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	c := NewConfig()
	if err := c.LoadYAMLFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadYAMLFile merges the YAML file at path into the tree.
func (c *Config) LoadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return c.LoadYAML(data)
}

// LoadYAML merges a YAML document into the tree. ${VAR} references in
// string values are expanded from the environment (unset variables expand
// to ""); any other $ is kept as written.
func (c *Config) LoadYAML(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &ParseError{Reason: fmt.Sprintf("config: %v", err)}
	}
	expandTree(doc)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrConfigLocked
	}
	merge(c.root, doc)
	return nil
}

// LoadEnv sets every variable named PREFIX__A__B__C as key a.b.c. Values
// stay strings; Settings converts them to the type of each setting.
func (c *Config) LoadEnv(prefix string) error {
	p := prefix + "__"
	env := os.Environ()
	sort.Strings(env)
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, p) {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, p), "__", "."))
		if err := c.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandTree(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = expandTree(e)
		}
	case []any:
		for i, e := range x {
			x[i] = expandTree(e)
		}
	case string:
		if !strings.Contains(x, "${") {
			return x
		}
		return envRef.ReplaceAllStringFunc(x, func(ref string) string {
			return os.Getenv(ref[2 : len(ref)-1])
		})
	}
	return v
}

// Set stores value at key, creating intermediate levels.
func (c *Config) Set(key string, value any) error {
	parts, err := splitKey(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return ErrConfigLocked
	}
	node := c.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := node[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[p] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value
	return nil
}

// Lookup returns the value (scalar or subtree) stored at key.
func (c *Config) Lookup(key string) (any, bool) {
	parts, err := splitKey(key)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var v any = c.root
	for _, p := range parts {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = m[p]; !ok {
			return nil, false
		}
	}
	return v, true
}

// Lock freezes the tree.
func (c *Config) Lock() {
	c.mu.Lock()
	c.locked = true
	c.mu.Unlock()
}

// Locked reports whether Lock has been called.
func (c *Config) Locked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.locked
}

// Settings resolves the subtree at key over DefaultSettings and validates
// the result.
func (c *Config) Settings(key string) (Settings, error) {
	s := DefaultSettings()
	v, ok := c.Lookup(key)
	if !ok {
		return s, &ValidationError{Field: "config", Reason: fmt.Sprintf("no settings at %q", key)}
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return s, &ValidationError{Field: "config", Reason: fmt.Sprintf("%q is not a settings block", key)}
	}
	if err := s.apply(sub); err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func splitKey(key string) ([]string, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ValidationError{Field: "config key", Reason: fmt.Sprintf("malformed %q", key)}
		}
	}
	return parts, nil
}

// merge copies src into dst, descending into maps present on both sides.
func merge(dst, src map[string]any) {
	for k, v := range src {
		k = strings.ToLower(k)
		if sm, ok := v.(map[string]any); ok {
			dm, ok := dst[k].(map[string]any)
			if !ok {
				dm = make(map[string]any)
				dst[k] = dm
			}
			merge(dm, sm)
			continue
		}
		dst[k] = v
	}
}
