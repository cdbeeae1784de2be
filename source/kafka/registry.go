package kafka

import (
	"fmt"
	"sort"
)

type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init.
func Register(name string, f Factory) {
	registry[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka-source: unsupported driver %q", name)
}

func Drivers() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
