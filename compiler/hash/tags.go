package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the hashing AST serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every fingerprint stored in a snapshot.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// AST node type tags. Each tag uniquely identifies a node kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literal values
	TagIntLiteral    byte = 0x01
	TagFloatLiteral  byte = 0x02
	TagStringLiteral byte = 0x03
	TagBoolLiteral   byte = 0x04
	TagNilLiteral    byte = 0x05

	// Variable references (de Bruijn indexed)
	TagLocalRef  byte = 0x0B
	TagGlobalRef byte = 0x0D

	// Expressions
	TagBinary byte = 0x10
	TagUnary  byte = 0x11
	TagCall   byte = 0x12

	// Statements / structure
	TagAssign   byte = 0x14
	TagReturn   byte = 0x15
	TagFunction byte = 0x17
	TagLet      byte = 0x18
	TagIf       byte = 0x19
	TagWhile    byte = 0x1A
	TagExprStmt byte = 0x1C
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagIntLiteral, TagFloatLiteral, TagStringLiteral, TagBoolLiteral, TagNilLiteral,
	TagLocalRef, TagGlobalRef,
	TagBinary, TagUnary, TagCall,
	TagAssign, TagReturn, TagFunction, TagLet, TagIf, TagWhile, TagExprStmt,
}
