package hash

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of the frozen hashing AST.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Node lists: uint32 big-endian count + nodes
//   - Child nodes: serialized inline (flat)
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of an HNode tree.
// The returned bytes are suitable for hashing with SHA-256.
func Serialize(node HNode) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	s.buf = binary.BigEndian.AppendUint16(s.buf, v)
}

func (s *serializer) writeUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *serializer) writeInt64(v int64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, uint64(v))
}

func (s *serializer) writeFloat64(v float64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, math.Float64bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeNodes(nodes []HNode) {
	s.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		s.serializeNode(n)
	}
}

func (s *serializer) serializeNode(node HNode) {
	switch n := node.(type) {
	case *HIntLiteral:
		s.writeByte(TagIntLiteral)
		s.writeInt64(n.Value)

	case *HFloatLiteral:
		s.writeByte(TagFloatLiteral)
		s.writeFloat64(n.Value)

	case *HStringLiteral:
		s.writeByte(TagStringLiteral)
		s.writeString(n.Value)

	case *HBoolLiteral:
		s.writeByte(TagBoolLiteral)
		s.writeBool(n.Value)

	case *HNilLiteral:
		s.writeByte(TagNilLiteral)

	case *HLocalRef:
		s.writeByte(TagLocalRef)
		s.writeUint16(n.ScopeDepth)
		s.writeUint16(n.SlotIndex)

	case *HGlobalRef:
		s.writeByte(TagGlobalRef)
		s.writeString(n.Name)

	case *HBinary:
		s.writeByte(TagBinary)
		s.writeByte(n.Op)
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	case *HUnary:
		s.writeByte(TagUnary)
		s.writeByte(n.Op)
		s.serializeNode(n.Operand)

	case *HCall:
		s.writeByte(TagCall)
		s.writeString(n.Name)
		s.writeNodes(n.Args)

	case *HLet:
		s.writeByte(TagLet)
		s.writeBool(n.Mutable)
		s.serializeNode(n.Value)

	case *HAssign:
		s.writeByte(TagAssign)
		s.serializeNode(n.Target)
		s.serializeNode(n.Value)

	case *HReturn:
		s.writeByte(TagReturn)
		s.writeBool(n.Value != nil)
		if n.Value != nil {
			s.serializeNode(n.Value)
		}

	case *HExprStmt:
		s.writeByte(TagExprStmt)
		s.serializeNode(n.Expr)

	case *HIf:
		s.writeByte(TagIf)
		s.serializeNode(n.Cond)
		s.writeNodes(n.Then)
		s.writeNodes(n.Else)

	case *HWhile:
		s.writeByte(TagWhile)
		s.serializeNode(n.Cond)
		s.writeNodes(n.Body)

	case *HFunction:
		s.writeByte(TagFunction)
		s.writeString(n.Name)
		s.writeUint32(uint32(len(n.ParamTypes)))
		for _, t := range n.ParamTypes {
			s.writeString(t)
		}
		s.writeString(n.ReturnType)
		s.writeNodes(n.Body)
	}
}
