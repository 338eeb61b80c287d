package backend

import (
	"fmt"
	"strings"

	"github.com/mwantia/cachefs/data"
)

// RootKey is the storage key of the root directory.
const RootKey = "/"

// ParentKey returns the key of the directory containing key.
func ParentKey(key string) string {
	if key == RootKey || key == "" {
		return RootKey
	}

	idx := strings.LastIndexByte(key, '/')
	if idx <= 0 {
		return RootKey
	}

	return key[:idx]
}

// BaseName returns the last segment of key.
func BaseName(key string) string {
	if key == RootKey {
		return ""
	}

	return key[strings.LastIndexByte(key, '/')+1:]
}

// JoinKey appends a segment to a directory key.
func JoinKey(dir, name string) string {
	if dir == RootKey {
		return RootKey + name
	}

	return dir + "/" + name
}

// SubtreePrefix returns the prefix shared by every key strictly below key.
func SubtreePrefix(key string) string {
	if key == RootKey {
		return RootKey
	}

	return key + "/"
}

// RebaseKey moves key from below src to below dst. key must equal src or start with SubtreePrefix(src).
func RebaseKey(key, src, dst string) string {
	if key == src {
		return dst
	}

	return SubtreePrefix(dst) + strings.TrimPrefix(key, SubtreePrefix(src))
}

// CheckRename rejects moves of a key below itself or onto one of its ancestors.
func CheckRename(src, dst string) error {
	if src == RootKey || dst == RootKey {
		return fmt.Errorf("%w: cannot move the root directory", data.ErrInvalid)
	}
	if strings.HasPrefix(dst, SubtreePrefix(src)) {
		return fmt.Errorf("%w: cannot move %s below itself", data.ErrInvalid, src)
	}
	if strings.HasPrefix(src, SubtreePrefix(dst)) {
		return fmt.Errorf("%w: cannot move %s onto its ancestor %s", data.ErrInvalid, src, dst)
	}

	return nil
}
