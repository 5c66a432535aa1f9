package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore keeps uploaded source files on disk under a single directory,
// one file per document ID so uploads with colliding names never overwrite
// each other.
type FileStore struct {
	dir string
}

// NewFileStore creates the uploads directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes r to disk for the given document and returns the stored path.
func (fs *FileStore) Save(docID, fileName string, r io.Reader) (string, int64, error) {
	path := fs.Path(docID, fileName)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, n, nil
}

// Path returns the on-disk location for a document's file.
func (fs *FileStore) Path(docID, fileName string) string {
	return filepath.Join(fs.dir, docID+"_"+filepath.Base(fileName))
}

// Remove deletes a stored file. A missing file is not an error.
func (fs *FileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped; errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
