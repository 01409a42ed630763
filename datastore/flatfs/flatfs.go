// Package flatfs implements the bundle.Store interface on a plain directory tree
package flatfs

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"dtnd/datamodel/bundle"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Do an indirection to make sure BundleStore implements the required interfaces
var _ bundle.Store = (*BundleStore)(nil)

var fileEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// BundleStore keeps every bundle in its own CBOR-encoded file.
// The file name is the base32 encoded bundle ID. Files are spread over 256 shard
// directories named after the first byte of the SHA-256 of the ID.
type BundleStore struct {
	mu       sync.RWMutex
	basePath string
}

func New(basePath string) (*BundleStore, error) {
	basePath = filepath.Clean(basePath)

	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened FlatFS at %s", basePath)

	return &BundleStore{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// idToPath converts a bundle ID to its file path. It also returns the shard directory.
func (f *BundleStore) idToPath(id string) (dirPath string, filePath string) {
	sum := sha256.Sum256([]byte(id))
	dirPath = filepath.Join(f.basePath, hex.EncodeToString(sum[:1]))
	filePath = filepath.Join(dirPath, fileEncoding.EncodeToString([]byte(id)))
	return dirPath, filePath
}

func (f *BundleStore) Push(b *bundle.Bundle) error {
	if b == nil {
		return os.ErrInvalid
	}

	raw, err := cbor.Marshal(b)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dirPath, filePath := f.idToPath(b.ID())
	if err := ensureDir(dirPath); err != nil {
		return err
	}

	// Write to a temporary file first so that readers never see a partial bundle
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func (f *BundleStore) Get(id string) (*bundle.Bundle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, filePath := f.idToPath(id)
	raw, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, bundle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b := &bundle.Bundle{}
	if err := cbor.Unmarshal(raw, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *BundleStore) Has(id string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, filePath := f.idToPath(id)
	stat, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !stat.IsDir(), nil
}

func (f *BundleStore) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, filePath := f.idToPath(id)
	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListBundleIDs scans the shard directories and decodes the file names.
// Entries that don't conform to the expected structure are logged and skipped.
func (f *BundleStore) ListBundleIDs() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var ids []string

	shardDirEntries, err := os.ReadDir(f.basePath)
	if err != nil {
		log.Errorf("Error reading base path %s for enumeration: %v", f.basePath, err)
		return nil, err
	}

	for _, shardDirEntry := range shardDirEntries {
		if !shardDirEntry.IsDir() {
			log.Warnf("Skipping non-directory entry in FlatFS base path during enumeration: %s", filepath.Join(f.basePath, shardDirEntry.Name()))
			continue
		}

		shardPath := filepath.Join(f.basePath, shardDirEntry.Name())
		fileEntries, err := os.ReadDir(shardPath)
		if err != nil {
			log.Errorf("Error reading shard directory %s during enumeration: %v", shardPath, err)
			return nil, err
		}

		for _, fileEntry := range fileEntries {
			if fileEntry.IsDir() || filepath.Ext(fileEntry.Name()) == ".tmp" {
				continue
			}

			id, err := fileEncoding.DecodeString(fileEntry.Name())
			if err != nil {
				log.Warnf("Skipping file %s in shard %s during enumeration, not a bundle: %v", fileEntry.Name(), shardPath, err)
				continue
			}
			ids = append(ids, string(id))
		}
	}

	return ids, nil
}

func (f *BundleStore) Close() error {
	return nil
}
