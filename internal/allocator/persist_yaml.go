package allocator

import "gopkg.in/yaml.v3"

// Snapshot is a human-readable rendering of a controller's state, used by
// the `nodedb inspect` command (SPEC_FULL.md §10) and by the YAML
// metadata sibling file.
type Snapshot struct {
	FileSize uint64         `yaml:"file_size"`
	Nodes    []SnapshotNode `yaml:"nodes"`
	Keys     map[string]int `yaml:"keys"`    // key -> node index
	Reclaim  []int          `yaml:"reclaim"` // node indices, size-sorted
}

// SnapshotNode mirrors [Node] with exported, stably-ordered fields for
// YAML rendering.
type SnapshotNode struct {
	Start     uint64 `yaml:"start"`
	End       uint64 `yaml:"end"`
	Capacity  uint64 `yaml:"capacity"`
	ValueSize uint64 `yaml:"value_size"`
	Live      bool   `yaml:"live"`
}

// BuildSnapshot walks the controller's chain, key map, and reclaimable
// index into a [Snapshot].
func BuildSnapshot(c *Controller) Snapshot {
	nodes, indexOf := orderedNodes(c.chain)

	snap := Snapshot{
		FileSize: c.FileSize(),
		Nodes:    make([]SnapshotNode, len(nodes)),
		Keys:     make(map[string]int, len(c.keys)),
		Reclaim:  make([]int, c.index.Len()),
	}

	for i, n := range nodes {
		snap.Nodes[i] = SnapshotNode{
			Start:     n.Start,
			End:       n.End,
			Capacity:  n.Capacity(),
			ValueSize: n.ValueSize,
			Live:      n.Live,
		}
	}

	for k, n := range c.keys {
		snap.Keys[k] = indexOf[n]
	}

	for i := 0; i < c.index.Len(); i++ {
		snap.Reclaim[i] = indexOf[c.index.At(i)]
	}

	return snap
}

// MarshalYAML renders the controller's state as YAML, for the `inspect`
// command of the nodedb REPL.
func MarshalYAML(c *Controller) ([]byte, error) {
	return yaml.Marshal(BuildSnapshot(c))
}
