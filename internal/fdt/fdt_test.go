package fdt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildHeader(t *testing.T) {
	blob, err := Build(ConsoleTree(UART{Base: 0x9000000, Size: 0x1000, RegShift: 2, IRQ: 33, Baud: 115200}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := binary.BigEndian.Uint32(blob[0:4]); got != Magic {
		t.Fatalf("magic = 0x%x", got)
	}
	if got := binary.BigEndian.Uint32(blob[4:8]); int(got) != len(blob) {
		t.Fatalf("totalsize = %d, blob is %d bytes", got, len(blob))
	}
	offStruct := binary.BigEndian.Uint32(blob[8:12])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])
	if sizeStruct%4 != 0 {
		t.Fatalf("structure block not aligned: %d", sizeStruct)
	}
	structure := blob[offStruct : offStruct+sizeStruct]
	if binary.BigEndian.Uint32(structure[:4]) != tokenBeginNode {
		t.Fatalf("structure does not start with a node")
	}
	if binary.BigEndian.Uint32(structure[len(structure)-4:]) != tokenEnd {
		t.Fatalf("structure does not end with FDT_END")
	}

	for _, want := range []string{"serial@9000000", "ns16550a", "serial0:115200n8", "/serial@9000000", "reg-shift", "stdout-path"} {
		if !bytes.Contains(blob, []byte(want)) {
			t.Fatalf("blob missing %q", want)
		}
	}
}

func TestUARTNode(t *testing.T) {
	n := UART{Base: 0x10000000, Size: 0x100, IRQ: 10}.Node()
	if n.Name != "serial@10000000" {
		t.Fatalf("name = %q", n.Name)
	}
	if _, ok := n.Properties["reg-shift"]; ok {
		t.Fatalf("reg-shift set for byte stride")
	}
	if got := n.Properties["clock-frequency"].U32; len(got) != 1 || got[0] != DefaultUARTClock {
		t.Fatalf("clock-frequency = %v", got)
	}
	if got := n.Properties["reg"].U64; len(got) != 2 || got[0] != 0x10000000 || got[1] != 0x100 {
		t.Fatalf("reg = %v", got)
	}

	tree := ConsoleTree(UART{Base: 0x10000000, Size: 0x100})
	chosen, ok := tree.Child("chosen")
	if !ok || chosen.Properties["stdout-path"].Strings[0] != "serial0" {
		t.Fatalf("chosen = %+v", chosen)
	}
}

func TestBuildRejectsBadProperties(t *testing.T) {
	empty := Node{Properties: map[string]Property{"x": {}}}
	if _, err := Build(empty); err == nil {
		t.Fatalf("expected error for empty property")
	}
	mixed := Node{Children: []Node{{Name: "a", Properties: map[string]Property{"x": {U32: []uint32{1}, Flag: true}}}}}
	if _, err := Build(mixed); err == nil {
		t.Fatalf("expected error for mixed property")
	}
	flag := Node{Properties: map[string]Property{"dma-coherent": {Flag: true}}}
	if _, err := Build(flag); err != nil {
		t.Fatalf("flag property: %v", err)
	}
}
