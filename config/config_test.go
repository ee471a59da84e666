package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tagheap/heap"
)

func TestLoadOverridesOnlyNamedFields(t *testing.T) {
	doc := `
gc_latency_ms: 10
max_heap_object_size: 4096
`
	tunables, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	require.Equal(t, uint64(10), tunables.GCLatencyMS)
	require.Equal(t, uintptr(4096), tunables.MaxHeapObjectSize)
	require.Equal(t, heap.DefaultTunables.MinHeapSize, tunables.MinHeapSize, "fields absent from the document keep the default")
}

func TestLoadEmptyDocumentKeepsDefaults(t *testing.T) {
	tunables, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, heap.DefaultTunables, tunables)
}

func TestLoadFileMissingPath(t *testing.T) {
	_, err := LoadFile("/nonexistent/tagheap-tunables.yaml")
	require.Error(t, err)
}
