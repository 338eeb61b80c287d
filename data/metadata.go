package data

import (
	"slices"
	"time"
)

// Metadata is the per-path record kept next to every blob.
// CreateTime is set once when the path is first created. Children is only
// meaningful for directories and holds the display names of the entries
// immediately below it; it is replaced wholesale on each update.
type Metadata struct {
	Type       FileType  `cbor:"1,keyasint" json:"type"`
	CreateTime time.Time `cbor:"2,keyasint" json:"create_time"`
	Children   []string  `cbor:"3,keyasint,omitempty" json:"children,omitempty"`
}

// NewFileMetadata creates a fresh record for a regular blob.
func NewFileMetadata() *Metadata {
	return &Metadata{
		Type:       FileTypeFile,
		CreateTime: time.Now().UTC(),
	}
}

// NewDirectoryMetadata creates a fresh record for an empty directory.
func NewDirectoryMetadata() *Metadata {
	return &Metadata{
		Type:       FileTypeDirectory,
		CreateTime: time.Now().UTC(),
		Children:   []string{},
	}
}

// IsDir returns true if this record describes a directory.
func (m *Metadata) IsDir() bool {
	return m.Type == FileTypeDirectory
}

// HasChild reports whether name is listed as a child.
func (m *Metadata) HasChild(name string) bool {
	return slices.Contains(m.Children, name)
}

// WithChild returns a copy that lists name as a child. The receiver is left untouched.
func (m *Metadata) WithChild(name string) *Metadata {
	clone := m.Clone()
	if !clone.HasChild(name) {
		clone.Children = append(clone.Children, name)
	}

	return clone
}

// WithoutChild returns a copy that no longer lists name as a child.
func (m *Metadata) WithoutChild(name string) *Metadata {
	clone := m.Clone()
	clone.Children = slices.DeleteFunc(clone.Children, func(child string) bool {
		return child == name
	})

	return clone
}

// Clone creates a deep copy of the record.
func (m *Metadata) Clone() *Metadata {
	clone := *m
	if m.Children != nil {
		clone.Children = slices.Clone(m.Children)
	}

	return &clone
}
