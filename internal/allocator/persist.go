package allocator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
)

// Binary metadata format.
//
// The document is a single self-describing blob: a header, a node table
// (the chain, in ascending Start order), a key table (key -> node index),
// a reclaim table (reclaimable-index entries, in size-sorted order, as
// node indices), and a footer. The footer shape — magic, body length and
// its one's-complement, a CRC32C of the body and its one's-complement —
// mirrors the teacher repository's WAL footer (pkg/mddb/wal.go) so a
// truncated or bit-flipped file is caught deterministically instead of
// silently misparsed.
const (
	metadataMagic     = "NDBM"
	metadataVersion   = 1
	metadataFooterTag = "NDBF"
	footerSize        = 8 + 8 + 8 + 4 + 4 // tag + bodyLen + ~bodyLen + crc + ~crc
)

var metadataCRC32C = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes a controller's entire metadata state: FileSize, the
// chain, the key map, and the reclaimable index.
func Encode(c *Controller) []byte {
	var body bytes.Buffer

	nodes, indexOf := orderedNodes(c.chain)

	writeHeader(&body, c, len(nodes))
	writeNodeTable(&body, nodes)
	writeKeyTable(&body, c, indexOf)
	writeReclaimTable(&body, c, indexOf)

	bodyBytes := body.Bytes()

	footer := make([]byte, footerSize)
	copy(footer[0:8], metadataFooterTag)

	bodyLen := uint64(len(bodyBytes))
	binary.LittleEndian.PutUint64(footer[8:16], bodyLen)
	binary.LittleEndian.PutUint64(footer[16:24], ^bodyLen)

	crc := crc32.Checksum(bodyBytes, metadataCRC32C)
	binary.LittleEndian.PutUint32(footer[24:28], crc)
	binary.LittleEndian.PutUint32(footer[28:32], ^crc)

	return append(bodyBytes, footer...)
}

// orderedNodes walks chain head-to-tail, returning nodes in persisted
// order along with a lookup table from node identity to that order's
// index.
func orderedNodes(chain *Chain) ([]*Node, map[*Node]int) {
	var nodes []*Node

	for n := chain.Head(); n != nil; n = n.Next {
		nodes = append(nodes, n)
	}

	indexOf := make(map[*Node]int, len(nodes))
	for i, n := range nodes {
		indexOf[n] = i
	}

	return nodes, indexOf
}

func writeHeader(buf *bytes.Buffer, c *Controller, nodeCount int) {
	header := make([]byte, 4+2+4+4+4+8)
	copy(header[0:4], metadataMagic)
	binary.LittleEndian.PutUint16(header[4:6], metadataVersion)
	binary.LittleEndian.PutUint32(header[6:10], uint32(nodeCount))
	binary.LittleEndian.PutUint32(header[10:14], uint32(len(c.keys)))
	binary.LittleEndian.PutUint32(header[14:18], uint32(c.index.Len()))
	binary.LittleEndian.PutUint64(header[18:26], c.FileSize())
	buf.Write(header)
}

func writeNodeTable(buf *bytes.Buffer, nodes []*Node) {
	for _, n := range nodes {
		entry := make([]byte, 8+8+8+1)
		binary.LittleEndian.PutUint64(entry[0:8], n.Start)
		binary.LittleEndian.PutUint64(entry[8:16], n.End)
		binary.LittleEndian.PutUint64(entry[16:24], n.ValueSize)

		if n.Live {
			entry[24] = 1
		}

		buf.Write(entry)
	}
}

func writeKeyTable(buf *bytes.Buffer, c *Controller, indexOf map[*Node]int) {
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		idxBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(idxBytes, uint32(indexOf[c.keys[k]]))
		buf.Write(idxBytes)

		lenBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenBytes, uint16(len(k)))
		buf.Write(lenBytes)
		buf.WriteString(k)
	}
}

func writeReclaimTable(buf *bytes.Buffer, c *Controller, indexOf map[*Node]int) {
	for i := 0; i < c.index.Len(); i++ {
		idxBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(idxBytes, uint32(indexOf[c.index.At(i)]))
		buf.Write(idxBytes)
	}
}

// Decode deserializes a metadata document produced by [Encode] into a
// fresh [Controller]. An empty or nil stream yields an empty controller,
// per SPEC_FULL.md §4.4. A non-empty stream that fails to decode, or
// decodes to a state violating a chain/index invariant, returns
// [ErrMetadataCorrupt].
func Decode(data []byte) (*Controller, error) {
	if len(data) == 0 {
		return NewController(), nil
	}

	body, err := verifyFooter(data)
	if err != nil {
		return nil, err
	}

	nodeCount, keyCount, reclaimCount, fileSize, rest, err := readHeader(body)
	if err != nil {
		return nil, err
	}

	nodes, rest, err := readNodeTable(rest, nodeCount)
	if err != nil {
		return nil, err
	}

	keyEntries, rest, err := readKeyTable(rest, keyCount, nodeCount)
	if err != nil {
		return nil, err
	}

	reclaimEntries, _, err := readReclaimTable(rest, reclaimCount, nodeCount)
	if err != nil {
		return nil, err
	}

	return rebuild(nodes, keyEntries, reclaimEntries, fileSize)
}

func verifyFooter(data []byte) ([]byte, error) {
	if len(data) < footerSize {
		return nil, fmt.Errorf("%w: truncated footer", ErrMetadataCorrupt)
	}

	body := data[:len(data)-footerSize]
	footer := data[len(data)-footerSize:]

	if string(footer[0:len(metadataFooterTag)]) != metadataFooterTag {
		return nil, fmt.Errorf("%w: bad footer tag", ErrMetadataCorrupt)
	}

	bodyLen := binary.LittleEndian.Uint64(footer[8:16])
	bodyLenInv := binary.LittleEndian.Uint64(footer[16:24])

	if ^bodyLen != bodyLenInv {
		return nil, fmt.Errorf("%w: footer length check failed", ErrMetadataCorrupt)
	}

	if bodyLen != uint64(len(body)) {
		return nil, fmt.Errorf("%w: body length mismatch", ErrMetadataCorrupt)
	}

	crc := binary.LittleEndian.Uint32(footer[24:28])
	crcInv := binary.LittleEndian.Uint32(footer[28:32])

	if ^crc != crcInv {
		return nil, fmt.Errorf("%w: footer crc check failed", ErrMetadataCorrupt)
	}

	if crc32.Checksum(body, metadataCRC32C) != crc {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMetadataCorrupt)
	}

	return body, nil
}

func readHeader(body []byte) (nodeCount, keyCount, reclaimCount int, fileSize uint64, rest []byte, err error) {
	const headerSize = 4 + 2 + 4 + 4 + 4 + 8

	if len(body) < headerSize {
		return 0, 0, 0, 0, nil, fmt.Errorf("%w: truncated header", ErrMetadataCorrupt)
	}

	if string(body[0:4]) != metadataMagic {
		return 0, 0, 0, 0, nil, fmt.Errorf("%w: bad magic", ErrMetadataCorrupt)
	}

	version := binary.LittleEndian.Uint16(body[4:6])
	if version != metadataVersion {
		return 0, 0, 0, 0, nil, fmt.Errorf("%w: unsupported version %d", ErrMetadataCorrupt, version)
	}

	nodeCount = int(binary.LittleEndian.Uint32(body[6:10]))
	keyCount = int(binary.LittleEndian.Uint32(body[10:14]))
	reclaimCount = int(binary.LittleEndian.Uint32(body[14:18]))
	fileSize = binary.LittleEndian.Uint64(body[18:26])

	return nodeCount, keyCount, reclaimCount, fileSize, body[headerSize:], nil
}

type decodedNode struct {
	start, end, valueSize uint64
	live                  bool
}

func readNodeTable(body []byte, nodeCount int) ([]decodedNode, []byte, error) {
	const entrySize = 8 + 8 + 8 + 1

	if len(body) < entrySize*nodeCount {
		return nil, nil, fmt.Errorf("%w: truncated node table", ErrMetadataCorrupt)
	}

	nodes := make([]decodedNode, nodeCount)

	for i := 0; i < nodeCount; i++ {
		entry := body[i*entrySize : (i+1)*entrySize]
		nodes[i] = decodedNode{
			start:     binary.LittleEndian.Uint64(entry[0:8]),
			end:       binary.LittleEndian.Uint64(entry[8:16]),
			valueSize: binary.LittleEndian.Uint64(entry[16:24]),
			live:      entry[24] != 0,
		}
	}

	return nodes, body[entrySize*nodeCount:], nil
}

type decodedKey struct {
	key       string
	nodeIndex int
}

func readKeyTable(body []byte, keyCount, nodeCount int) ([]decodedKey, []byte, error) {
	keys := make([]decodedKey, keyCount)

	for i := 0; i < keyCount; i++ {
		if len(body) < 6 {
			return nil, nil, fmt.Errorf("%w: truncated key entry", ErrMetadataCorrupt)
		}

		nodeIndex := int(binary.LittleEndian.Uint32(body[0:4]))
		keyLen := int(binary.LittleEndian.Uint16(body[4:6]))
		body = body[6:]

		if nodeIndex < 0 || nodeIndex >= nodeCount {
			return nil, nil, fmt.Errorf("%w: key node index out of range", ErrMetadataCorrupt)
		}

		if len(body) < keyLen {
			return nil, nil, fmt.Errorf("%w: truncated key string", ErrMetadataCorrupt)
		}

		keys[i] = decodedKey{key: string(body[:keyLen]), nodeIndex: nodeIndex}
		body = body[keyLen:]
	}

	return keys, body, nil
}

func readReclaimTable(body []byte, reclaimCount, nodeCount int) ([]int, []byte, error) {
	if len(body) < 4*reclaimCount {
		return nil, nil, fmt.Errorf("%w: truncated reclaim table", ErrMetadataCorrupt)
	}

	entries := make([]int, reclaimCount)

	for i := 0; i < reclaimCount; i++ {
		idx := int(binary.LittleEndian.Uint32(body[i*4 : i*4+4]))
		if idx < 0 || idx >= nodeCount {
			return nil, nil, fmt.Errorf("%w: reclaim node index out of range", ErrMetadataCorrupt)
		}

		entries[i] = idx
	}

	return entries, body[4*reclaimCount:], nil
}

// rebuild reconstructs a controller from decoded sections, re-linking
// Prev/Next by position and re-asserting the chain/index invariants of
// SPEC_FULL.md §3.
func rebuild(decoded []decodedNode, keys []decodedKey, reclaim []int, fileSize uint64) (*Controller, error) {
	c := NewController()

	nodes := make([]*Node, len(decoded))

	var prev *Node

	for i, d := range decoded {
		n := &Node{Start: d.start, End: d.end, ValueSize: d.valueSize, Live: d.live}

		if prev != nil {
			if prev.End != n.Start {
				return nil, fmt.Errorf("%w: chain gap between node %d and %d", ErrMetadataCorrupt, i-1, i)
			}

			prev.Next = n
			n.Prev = prev
		} else {
			c.chain.setHead(n)
		}

		prev = n
		nodes[i] = n
	}

	c.chain.setTail(prev)

	if c.chain.FileSize() != fileSize {
		return nil, fmt.Errorf("%w: file size mismatch: header says %d, chain says %d", ErrMetadataCorrupt, fileSize, c.chain.FileSize())
	}

	for _, k := range keys {
		n := nodes[k.nodeIndex]
		if !n.Live {
			return nil, fmt.Errorf("%w: key %q points at non-live node", ErrMetadataCorrupt, k.key)
		}

		c.keys[k.key] = n
	}

	if len(c.keys) != len(keys) {
		return nil, fmt.Errorf("%w: duplicate key in key table", ErrMetadataCorrupt)
	}

	liveWithKey := make(map[*Node]bool, len(c.keys))
	for _, n := range c.keys {
		if liveWithKey[n] {
			return nil, fmt.Errorf("%w: node referenced by more than one key", ErrMetadataCorrupt)
		}

		liveWithKey[n] = true
	}

	for _, n := range nodes {
		if n.Live && !liveWithKey[n] {
			return nil, fmt.Errorf("%w: live node with no owning key", ErrMetadataCorrupt)
		}
	}

	prevCapacity := uint64(0)

	for i, idx := range reclaim {
		n := nodes[idx]
		if n.Live {
			return nil, fmt.Errorf("%w: reclaim table references live node", ErrMetadataCorrupt)
		}

		if i > 0 && n.Capacity() < prevCapacity {
			return nil, fmt.Errorf("%w: reclaim table not sorted by capacity", ErrMetadataCorrupt)
		}

		prevCapacity = n.Capacity()
		c.index.entries = append(c.index.entries, n)
	}

	reclaimedSet := make(map[*Node]bool, len(reclaim))
	for _, idx := range reclaim {
		reclaimedSet[nodes[idx]] = true
	}

	for _, n := range nodes {
		if !n.Live && !reclaimedSet[n] {
			return nil, fmt.Errorf("%w: non-live node missing from reclaim table", ErrMetadataCorrupt)
		}
	}

	for i := 1; i < len(nodes); i++ {
		if !nodes[i-1].Live && !nodes[i].Live {
			return nil, fmt.Errorf("%w: adjacent reclaimable nodes were not coalesced", ErrMetadataCorrupt)
		}
	}

	return c, nil
}
