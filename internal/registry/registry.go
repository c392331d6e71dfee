package registry

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

var (
	ErrUnknownSystem   = errors.New("unknown system alias")
	ErrInvalidRegistry = errors.New("invalid system registry")
)

const (
	builtinAlias = "local"
	builtinHost  = "localhost"
	builtinPort  = 9999
)

// System describes one backend decision service.
type System struct {
	Alias string `yaml:"alias" json:"alias"`
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
}

func (s System) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Registry is an immutable alias -> System table with exactly one default.
// It is built once at startup and handed to every adapter.
type Registry struct {
	systems      map[string]System
	defaultAlias string
}

func New(systems []System, defaultAlias string) (*Registry, error) {
	if len(systems) == 0 {
		return nil, fmt.Errorf("%w: no systems defined", ErrInvalidRegistry)
	}
	table := make(map[string]System, len(systems))
	for _, s := range systems {
		s.Alias = strings.TrimSpace(s.Alias)
		s.Host = strings.TrimSpace(s.Host)
		if s.Alias == "" {
			return nil, fmt.Errorf("%w: empty alias", ErrInvalidRegistry)
		}
		if _, dup := table[s.Alias]; dup {
			return nil, fmt.Errorf("%w: duplicate alias %q", ErrInvalidRegistry, s.Alias)
		}
		if s.Host == "" {
			return nil, fmt.Errorf("%w: system %q has no host", ErrInvalidRegistry, s.Alias)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return nil, fmt.Errorf("%w: system %q port %d out of range", ErrInvalidRegistry, s.Alias, s.Port)
		}
		table[s.Alias] = s
	}

	defaultAlias = strings.TrimSpace(defaultAlias)
	if defaultAlias == "" {
		if len(table) != 1 {
			return nil, fmt.Errorf("%w: default alias required when more than one system is defined", ErrInvalidRegistry)
		}
		for alias := range table {
			defaultAlias = alias
		}
	}
	if _, ok := table[defaultAlias]; !ok {
		return nil, fmt.Errorf("%w: default alias %q not defined", ErrInvalidRegistry, defaultAlias)
	}
	return &Registry{systems: table, defaultAlias: defaultAlias}, nil
}

// Builtin returns the table used when no systems file is configured.
func Builtin() *Registry {
	r, err := New([]System{{Alias: builtinAlias, Host: builtinHost, Port: builtinPort}}, builtinAlias)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the default system for an empty alias. A non-empty alias
// must exist in the table.
func (r *Registry) Resolve(alias string) (System, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return r.systems[r.defaultAlias], nil
	}
	s, ok := r.systems[alias]
	if !ok {
		return System{}, fmt.Errorf("%w: %q", ErrUnknownSystem, alias)
	}
	return s, nil
}

func (r *Registry) Default() System {
	return r.systems[r.defaultAlias]
}

// Systems returns a copy of the table sorted by alias.
func (r *Registry) Systems() []System {
	out := make([]System, 0, len(r.systems))
	for _, s := range r.systems {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

type fileFormat struct {
	Default string   `yaml:"default"`
	Systems []System `yaml:"systems"`
}

// Load reads a YAML systems file:
//
//	default: allie
//	systems:
//	  - alias: allie
//	    host: localhost
//	    port: 9999
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read systems file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidRegistry, err)
	}
	return New(f.Systems, f.Default)
}
