// Package env composes the environment a server process is launched with.
package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Parse splits "K=V" entries. Later entries win.
func Parse(kvs []string) (Var, error) {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid environment entry %q: want KEY=VALUE", kv)
		}
		m[k] = v
	}
	return m, nil
}

// Compose layers base, then overrides in order, each expanded (${VAR})
// against everything composed before it, then pinned. Pinned entries are applied verbatim and cannot
// be overridden. Malformed base entries are skipped. The result is sorted.
func Compose(base, overrides []string, pinned ...string) ([]string, error) {
	m := make(Var, len(base)+len(overrides)+len(pinned))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	if _, err := Parse(overrides); err != nil {
		return nil, err
	}
	for _, kv := range overrides {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = os.Expand(v, func(name string) string { return m[name] })
	}
	pin, err := Parse(pinned)
	if err != nil {
		return nil, err
	}
	for k, v := range pin {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}
