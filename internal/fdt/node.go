// Package fdt builds flattened device tree blobs describing the emulated
// devices to a guest kernel.
package fdt

// Property is a single device tree property. Exactly one field is set.
type Property struct {
	Strings []string
	U32     []uint32
	U64     []uint64
	Flag    bool
}

func (p Property) kinds() int {
	n := 0
	for _, set := range []bool{len(p.Strings) > 0, len(p.U32) > 0, len(p.U64) > 0, p.Flag} {
		if set {
			n++
		}
	}
	return n
}

// Node is a device tree node. The root node has an empty name.
type Node struct {
	Name       string
	Properties map[string]Property
	Children   []Node
}

// Strings, U32 and U64 are shorthands for single-kind properties.
func Strings(v ...string) Property { return Property{Strings: v} }
func U32(v ...uint32) Property     { return Property{U32: v} }
func U64(v ...uint64) Property     { return Property{U64: v} }

// Child returns the first direct child named name.
func (n Node) Child(name string) (Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return Node{}, false
}
