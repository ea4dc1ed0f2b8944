package mailbox

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

const previewLimit = 120

// MessageInfo is a summary of a single message in a mailbox.
type MessageInfo struct {
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Date    time.Time `json:"date"`
	Preview string    `json:"preview"`
}

// MessageCount counts the messages in the mailbox without parsing them.
func (m *Mailbox) MessageCount() (int, error) {
	if m.kind == KindMaildir {
		return m.maildirCount()
	}
	r, err := m.open()
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return forEachMboxMessage(r, nil)
}

// Messages parses up to limit messages from the mailbox. A limit of zero
// or less parses everything.
func (m *Mailbox) Messages(limit int) ([]MessageInfo, error) {
	if m.kind == KindMaildir {
		return m.maildirMessages(limit)
	}

	r, err := m.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var infos []MessageInfo
	_, err = forEachMboxMessage(r, func(raw []byte) error {
		if limit > 0 && len(infos) >= limit {
			return errStopIteration
		}
		infos = append(infos, parseMessage(raw))
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}
	return infos, nil
}

// open returns a reader over the decompressed mbox stream.
func (m *Mailbox) open() (io.ReadCloser, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox %s: %w", m.path, err)
	}
	if m.kind != KindGzip {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decompress mailbox %s: %w", m.path, err)
	}
	return &gzipReadCloser{Reader: gz, file: f}, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

var errStopIteration = fmt.Errorf("stop iteration")

// forEachMboxMessage splits an mbox stream into messages and calls fn with
// the raw bytes of each. Separator lines start with "From "; one level of
// ">From" stuffing is undone. fn may be nil to only count messages.
// Returns the number of messages seen.
func forEachMboxMessage(r io.Reader, fn func(raw []byte) error) (int, error) {
	br := bufio.NewReaderSize(r, 64<<10)
	var current bytes.Buffer
	count := 0
	started := false

	flush := func() error {
		if !started {
			return nil
		}
		count++
		started = false
		if fn == nil {
			current.Reset()
			return nil
		}
		raw := make([]byte, current.Len())
		copy(raw, current.Bytes())
		current.Reset()
		return fn(raw)
	}

	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			if bytes.HasPrefix(line, mboxMagic) {
				if err := flush(); err != nil {
					return count, err
				}
				started = true
			} else if started {
				current.Write(unstuff(line))
			}
		}
		if readErr == io.EOF {
			if err := flush(); err != nil {
				return count, err
			}
			return count, nil
		}
		if readErr != nil {
			return count, fmt.Errorf("failed to read mbox stream: %w", readErr)
		}
	}
}

// unstuff removes one level of ">From " quoting.
func unstuff(line []byte) []byte {
	trimmed := bytes.TrimLeft(line, ">")
	if len(trimmed) < len(line) && bytes.HasPrefix(trimmed, mboxMagic) {
		return line[1:]
	}
	return line
}

func (m *Mailbox) maildirCount() (int, error) {
	count := 0
	for _, sub := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(m.path, sub))
		if err != nil {
			return 0, fmt.Errorf("failed to read maildir %s: %w", m.path, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				count++
			}
		}
	}
	return count, nil
}

func (m *Mailbox) maildirMessages(limit int) ([]MessageInfo, error) {
	var infos []MessageInfo
	for _, sub := range []string{"cur", "new"} {
		dir := filepath.Join(m.path, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read maildir %s: %w", m.path, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if limit > 0 && len(infos) >= limit {
				return infos, nil
			}
			raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read message %s: %w", e.Name(), err)
			}
			infos = append(infos, parseMessage(raw))
		}
	}
	return infos, nil
}

// parseMessage extracts a summary from a raw RFC 5322 message. Parse
// failures degrade to empty fields rather than erroring out: a broken
// message should not hide the rest of the mailbox.
func parseMessage(raw []byte) MessageInfo {
	var info MessageInfo

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return info
	}
	defer mr.Close()

	if subject, err := mr.Header.Subject(); err == nil {
		info.Subject = subject
	}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		info.From = addrs[0].String()
	}
	if date, err := mr.Header.Date(); err == nil {
		info.Date = date
	}

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil || !strings.HasPrefix(contentType, "text/") {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, 8<<10))
		if err != nil {
			continue
		}
		text := string(body)
		if contentType == "text/html" {
			text = html2text.HTML2Text(text)
		}
		if preview := makePreview(text); preview != "" {
			info.Preview = preview
			break
		}
	}
	return info
}

// makePreview collapses whitespace and truncates to the preview limit.
func makePreview(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit])
	}
	return collapsed
}
