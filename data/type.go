package data

// FileType identifies what a path refers to in the backing store.
type FileType int

const (
	FileTypeFile      FileType = iota // Regular blob
	FileTypeDirectory                 // Directory carrying a child list
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}
