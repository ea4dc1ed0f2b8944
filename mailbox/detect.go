package mailbox

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	mboxMagic = []byte("From ")
)

// MaildirSubdirs are the subdirectories every maildir must contain.
var MaildirSubdirs = []string{"cur", "new", "tmp"}

// Detect guesses whether the directory entry at path is a mailbox and of
// which kind. Returns nil without error when the entry is not a mailbox.
func Detect(path string, d fs.DirEntry) (*Mailbox, error) {
	switch {
	case d.Type().IsRegular():
		kind, ok, err := sniffFile(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return New(path, kind), nil

	case d.IsDir():
		if isMaildir(path) {
			return New(path, KindMaildir), nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// sniffFile looks at the beginning of a file to decide whether it is a
// plain or gzip-compressed mbox. Files too short to hold the magic are not
// mailboxes.
func sniffFile(path string) (Kind, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	beginning := make([]byte, len(mboxMagic))
	if _, err := io.ReadFull(f, beginning); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if bytes.Equal(beginning, mboxMagic) {
		return KindMbox, true, nil
	}

	// Not a plain mbox; it can still be a gzipped one. The gzip header is
	// longer than two bytes, so the 5-byte read above cannot have consumed
	// past it.
	if !bytes.Equal(beginning[:len(gzipMagic)], gzipMagic) {
		return 0, false, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, false, fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, false, nil
	}
	defer gz.Close()

	if _, err := io.ReadFull(gz, beginning); err != nil {
		return 0, false, nil
	}
	if bytes.Equal(beginning, mboxMagic) {
		return KindGzip, true, nil
	}
	return 0, false, nil
}

// isMaildir reports whether dir contains the cur/new/tmp subdirectories.
// Not every directory is a maildir.
func isMaildir(dir string) bool {
	for _, sub := range MaildirSubdirs {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
