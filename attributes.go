package cachefs

import "time"

// BasicAttributeView is the only attribute view supported by cachefs.
const BasicAttributeView = "basic"

// BasicAttributes are synthesized from the metadata record and the storage.
type BasicAttributes struct {
	Name             string
	Directory        bool
	CreationTime     time.Time
	LastModifiedTime time.Time
	// LastAccessTime is not tracked and mirrors LastModifiedTime.
	LastAccessTime time.Time
	Size           int64
	// FileKey identifies the entry as "<storeId>:<key>".
	FileKey string
}

func (a *BasicAttributes) IsDirectory() bool {
	return a.Directory
}

func (a *BasicAttributes) IsRegularFile() bool {
	return !a.Directory
}

func (a *BasicAttributes) IsSymbolicLink() bool {
	return false
}

func (a *BasicAttributes) IsOther() bool {
	return false
}
