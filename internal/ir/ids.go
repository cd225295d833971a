package ir

import "strconv"

// AnchorID identifies a spatial anchor.
type AnchorID uint64

// EntityID identifies an entity. Ids are drawn at random by the peer that
// first creates the entity.
type EntityID uint64

// String renders the id in decimal, the form used as a database key.
func (id AnchorID) String() string { return strconv.FormatUint(uint64(id), 10) }

// String renders the id in decimal, the form used as a database key.
func (id EntityID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseAnchorID parses a decimal anchor id.
func ParseAnchorID(s string) (AnchorID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return AnchorID(v), err
}

// ParseEntityID parses a decimal entity id.
func ParseEntityID(s string) (EntityID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return EntityID(v), err
}
