package hnsw

import (
	"encoding/binary"
	"fmt"
)

// Graph node record layout: one byte top layer, then for each layer 0..top
// a little-endian uint16 neighbor count followed by count little-endian
// uint32 neighbor ids.

// EncodeNode serializes a node's neighbor lists into the storage record
func EncodeNode(node *Node) ([]byte, error) {
	if node.Level > 255 {
		return nil, fmt.Errorf("node level %d exceeds format limit", node.Level)
	}

	size := 1
	for _, layer := range node.Links {
		if len(layer) > 0xFFFF {
			return nil, fmt.Errorf("neighbor count %d exceeds format limit", len(layer))
		}
		size += 2 + 4*len(layer)
	}

	buf := make([]byte, size)
	buf[0] = byte(node.Level)
	offset := 1
	for _, layer := range node.Links {
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(layer)))
		offset += 2
		for _, neighborID := range layer {
			binary.LittleEndian.PutUint32(buf[offset:], neighborID)
			offset += 4
		}
	}
	return buf, nil
}

// DecodeNode parses a storage record back into a node
func DecodeNode(data []byte) (*Node, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("graph node record too short")
	}

	level := int(data[0])
	node := &Node{Level: level, Links: make([][]uint32, level+1)}
	offset := 1
	for layer := 0; layer <= level; layer++ {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("graph node record truncated at layer %d", layer)
		}
		count := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if offset+4*count > len(data) {
			return nil, fmt.Errorf("graph node record truncated at layer %d neighbors", layer)
		}
		links := make([]uint32, count)
		for i := 0; i < count; i++ {
			links[i] = binary.LittleEndian.Uint32(data[offset:])
			offset += 4
		}
		node.Links[layer] = links
	}
	if offset != len(data) {
		return nil, fmt.Errorf("graph node record has %d trailing bytes", len(data)-offset)
	}
	return node, nil
}
