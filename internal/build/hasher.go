package build

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
)

// DirectoryContentHash stands in for the content hash of a directory
// so that empty directories still contribute to a fingerprint.
const DirectoryContentHash = "directory"

const (
	fingerprintPrefix = "sha256:"
	unhashablePrefix  = "unhashable:"
)

// Fingerprint returns a stable digest of files.
//
// If a regular file has no content hash, Fingerprint returns a random value
// that never equals another fingerprint. The record then never deduplicates,
// which is preferable to a false match.
func Fingerprint(files []InfraFile) string {
	tree := make(map[string]string, len(files))
	for _, f := range files {
		if f.IsDir {
			tree[normalizePath(f.Path)] = DirectoryContentHash
			continue
		}
		if f.ContentHash == "" {
			return unhashablePrefix + uuid.NewString()
		}
		tree[normalizePath(f.Path)] = f.ContentHash
	}

	b, err := json.Marshal(tree, json.Deterministic(true))
	if err != nil {
		// A map of strings always marshals.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

// Unhashable reports whether fingerprint was produced for malformed files.
func Unhashable(fingerprint string) bool {
	return strings.HasPrefix(fingerprint, unhashablePrefix)
}

func normalizePath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}
