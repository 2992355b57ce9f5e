// Package checksum derives stable idempotency keys for input documents.
package checksum

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Key hashes the input name and content. The same bytes dropped under a new
// name are a distinct input because the notification identity comes from the
// name.
func Key(fileName string, content []byte) string {
	digest := xxhash.New()
	digest.WriteString(fileName)
	digest.Write([]byte{0})
	digest.Write(content)
	return hex.EncodeToString(digest.Sum(nil))
}

// FileKey reads a file and returns its Key along with the content.
func FileKey(path string) (string, []byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Key(filepath.Base(path), content), content, nil
}
