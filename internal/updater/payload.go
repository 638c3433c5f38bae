package updater

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PayloadExtension is the file extension of a usable database
const PayloadExtension = ".mmdb"

// findPayload walks root depth-first, at most maxDepth directories deep,
// and returns the single regular file with extension ext
// Zero or several candidates wrap ErrPayloadNotFound
func findPayload(root, ext string, maxDepth int) (string, error) {
	root = filepath.Clean(root)
	rootDepth := strings.Count(root, string(os.PathSeparator))

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		depth := strings.Count(path, string(os.PathSeparator)) - rootDepth
		if d.IsDir() {
			if depth > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && strings.EqualFold(filepath.Ext(d.Name()), ext) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s file in archive", ErrPayloadNotFound, ext)
	case 1:
		return matches[0], nil
	default:
		rel := make([]string, len(matches))
		for i, m := range matches {
			rel[i], _ = filepath.Rel(root, m)
		}
		return "", fmt.Errorf("%w: %d %s candidates (%s)", ErrPayloadNotFound, len(matches), ext, strings.Join(rel, ", "))
	}
}
