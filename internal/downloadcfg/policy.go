package downloadcfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CollisionPolicy defines how a file sink treats an existing target file.
// Values: "error" | "overwrite" | "rename".
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
)

// ErrTargetExists is returned by ResolveTarget under CollisionError.
var ErrTargetExists = errors.New("target file already exists")

// ParseCollisionPolicy converts a string to a CollisionPolicy with default.
func ParseCollisionPolicy(s string) CollisionPolicy {
	switch CollisionPolicy(s) {
	case CollisionOverwrite:
		return CollisionOverwrite
	case CollisionRename:
		return CollisionRename
	case CollisionError:
		fallthrough
	default:
		return CollisionError
	}
}

// ResolveTarget returns the path a sink should write to for the given policy.
// Under CollisionRename the first free "name-(n).ext" sibling is returned.
func ResolveTarget(path string, p CollisionPolicy) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return path, nil
		}
		return "", err
	}
	switch p {
	case CollisionOverwrite:
		return path, nil
	case CollisionRename:
		dir := filepath.Dir(path)
		base := filepath.Base(path)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		for i := 1; ; i++ {
			candidate := filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, i, ext))
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, nil
			}
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrTargetExists, path)
	}
}
