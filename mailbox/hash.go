package mailbox

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"
)

// ContentHash returns a BLAKE3 hex digest identifying the current content
// of the mailbox. For file-backed mailboxes the compressed bytes are
// hashed as stored. For maildirs the hash covers the sorted list of
// message file names and sizes, which changes whenever messages are
// added, removed or moved between subdirectories.
func (m *Mailbox) ContentHash() (string, error) {
	h := blake3.New(32, nil)

	if m.kind == KindMaildir {
		if err := m.hashMaildir(h); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return "", fmt.Errorf("failed to open mailbox %s: %w", m.path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash mailbox %s: %w", m.path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Mailbox) hashMaildir(w io.Writer) error {
	type fileEntry struct {
		rel  string
		size int64
	}
	var files []fileEntry

	for _, sub := range []string{"cur", "new"} {
		dir := filepath.Join(m.path, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read maildir %s: %w", m.path, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				if _, ok := err.(*fs.PathError); ok {
					continue // removed mid-scan
				}
				return err
			}
			files = append(files, fileEntry{rel: filepath.Join(sub, e.Name()), size: info.Size()})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	for _, f := range files {
		fmt.Fprintf(w, "%s\x00%d\n", f.rel, f.size)
	}
	return nil
}
