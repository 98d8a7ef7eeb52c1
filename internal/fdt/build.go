package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	Magic = 0xd00dfeed

	headerSize     = 0x28
	version        = 17
	lastCompatible = 16

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProp      = 0x3
	tokenEnd       = 0x9
)

// Build serializes root into an FDT blob. Properties are emitted in name
// order so the output is stable.
func Build(root Node) ([]byte, error) {
	e := &encoder{offsets: make(map[string]uint32)}
	if err := e.node(root); err != nil {
		return nil, err
	}
	e.token(tokenEnd)
	return e.blob(), nil
}

type encoder struct {
	structure bytes.Buffer
	strings   bytes.Buffer
	offsets   map[string]uint32
}

func (e *encoder) node(n Node) error {
	e.token(tokenBeginNode)
	e.structure.WriteString(n.Name)
	e.structure.WriteByte(0)
	e.align()

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, err := encodeValue(n.Properties[name])
		if err != nil {
			return fmt.Errorf("fdt: node %q property %q: %w", n.Name, name, err)
		}
		e.token(tokenProp)
		e.u32(uint32(len(value)))
		e.u32(e.nameOffset(name))
		e.structure.Write(value)
		e.align()
	}

	for _, child := range n.Children {
		if err := e.node(child); err != nil {
			return err
		}
	}
	e.token(tokenEndNode)
	return nil
}

func encodeValue(p Property) ([]byte, error) {
	switch p.kinds() {
	case 0:
		return nil, fmt.Errorf("no value")
	case 1:
	default:
		return nil, fmt.Errorf("more than one value kind")
	}
	var buf []byte
	switch {
	case len(p.Strings) > 0:
		for _, s := range p.Strings {
			buf = append(buf, s...)
			buf = append(buf, 0)
		}
	case len(p.U32) > 0:
		for _, v := range p.U32 {
			buf = binary.BigEndian.AppendUint32(buf, v)
		}
	case len(p.U64) > 0:
		for _, v := range p.U64 {
			buf = binary.BigEndian.AppendUint64(buf, v)
		}
	}
	return buf, nil
}

func (e *encoder) token(t uint32) { e.u32(t) }

func (e *encoder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.structure.Write(tmp[:])
}

func (e *encoder) align() {
	for e.structure.Len()%4 != 0 {
		e.structure.WriteByte(0)
	}
}

func (e *encoder) nameOffset(name string) uint32 {
	if off, ok := e.offsets[name]; ok {
		return off
	}
	off := uint32(e.strings.Len())
	e.strings.WriteString(name)
	e.strings.WriteByte(0)
	e.offsets[name] = off
	return off
}

func (e *encoder) blob() []byte {
	// One empty memory reservation entry terminates the reservation map.
	const reserveSize = 16
	offReserve := headerSize
	offStruct := offReserve + reserveSize
	offStrings := offStruct + e.structure.Len()
	total := offStrings + e.strings.Len()

	out := make([]byte, total)
	fields := []uint32{
		Magic,
		uint32(total),
		uint32(offStruct),
		uint32(offStrings),
		uint32(offReserve),
		version,
		lastCompatible,
		0, // boot CPU
		uint32(e.strings.Len()),
		uint32(e.structure.Len()),
	}
	for i, v := range fields {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	copy(out[offStruct:], e.structure.Bytes())
	copy(out[offStrings:], e.strings.Bytes())
	return out
}
