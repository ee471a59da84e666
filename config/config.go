// Package config loads heap.Tunables overrides from a YAML document, the
// one ambient layer the collector's compile-time constants in
// ome/runtime/runtime.c have no equivalent for.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tagheap/heap"
)

// File is the on-disk shape of a tunables override document. Any field
// left zero keeps heap.DefaultTunables' value — this mirrors the
// "override only what you name" pattern hyperpb-go's internal/testdata
// fixtures use for their own YAML configs.
type File struct {
	MinHeapSize       uintptr `yaml:"min_heap_size"`
	MaxHeapSize       uintptr `yaml:"max_heap_size"`
	InitialHeapSize   uintptr `yaml:"initial_heap_size"`
	MaxHeapObjectSize uintptr `yaml:"max_heap_object_size"`
	MaxBigObjectSize  uintptr `yaml:"max_big_object_size"`
	GCLatencyMS       uint64  `yaml:"gc_latency_ms"`
}

// Load reads a tunables override document from r and applies it on top of
// heap.DefaultTunables.
func Load(r io.Reader) (heap.Tunables, error) {
	var f File
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return heap.Tunables{}, fmt.Errorf("config: failed to decode tunables: %w", err)
	}
	return apply(f), nil
}

// LoadFile is a convenience wrapper around Load for a path on disk.
func LoadFile(path string) (heap.Tunables, error) {
	f, err := os.Open(path)
	if err != nil {
		return heap.Tunables{}, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func apply(f File) heap.Tunables {
	t := heap.DefaultTunables
	if f.MinHeapSize != 0 {
		t.MinHeapSize = f.MinHeapSize
	}
	if f.MaxHeapSize != 0 {
		t.MaxHeapSize = f.MaxHeapSize
	}
	if f.InitialHeapSize != 0 {
		t.InitialHeapSize = f.InitialHeapSize
	}
	if f.MaxHeapObjectSize != 0 {
		t.MaxHeapObjectSize = f.MaxHeapObjectSize
	}
	if f.MaxBigObjectSize != 0 {
		t.MaxBigObjectSize = f.MaxBigObjectSize
	}
	if f.GCLatencyMS != 0 {
		t.GCLatencyMS = f.GCLatencyMS
	}
	return t
}
