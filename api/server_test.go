package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixmail/mix/config"
	"github.com/mixmail/mix/index"
	"github.com/mixmail/mix/mailbox"
	"github.com/mixmail/mix/rewrite"
	"github.com/mixmail/mix/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMbox = `From alice@example.com Sat Aug 29 10:00:00 2026
From: Alice <alice@example.com>
Subject: hello
Date: Sat, 29 Aug 2026 10:00:00 +0000

first message body
`

type testEnv struct {
	srv      *Server
	idx      *index.Index
	registry *mailbox.Registry
	queue    *scanner.Queue
	root     string
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	cfg := config.NewDefaultConfig()
	cfg.Storage.Search = []string{root}

	callbacks := rewrite.NewRegistry()
	callbacks.Register(rewrite.NewNameRewriter().Callback())
	registry := mailbox.NewRegistry()
	queue := scanner.NewQueue()
	scn := scanner.New(cfg, callbacks, registry, queue)

	srv, err := New(ServerOptions{Socket: filepath.Join(t.TempDir(), "mix-socket")}, idx, registry, scn, queue)
	require.NoError(t, err)

	return &testEnv{srv: srv, idx: idx, registry: registry, queue: queue, root: root}
}

func (e *testEnv) addMailbox(t *testing.T, filename string) *mailbox.Mailbox {
	t.Helper()
	path := filepath.Join(e.root, filename)
	require.NoError(t, os.WriteFile(path, []byte(testMbox), 0o644))
	m := mailbox.New(path, mailbox.KindMbox)
	require.NoError(t, e.registry.Add(m))
	return m
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestListMailboxes(t *testing.T) {
	env := setupServer(t)

	rr := env.do("GET", "/mailboxes")
	require.Equal(t, http.StatusOK, rr.Code)
	var empty []index.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &empty))
	assert.Empty(t, empty)

	require.NoError(t, env.idx.Upsert(context.Background(), index.Record{
		Path:      filepath.Join(env.root, "inbox"),
		Name:      "inbox",
		Kind:      "mbox",
		Messages:  1,
		ScannedAt: time.Now(),
	}))

	rr = env.do("GET", "/mailboxes")
	require.Equal(t, http.StatusOK, rr.Code)
	var records []index.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "inbox", records[0].Name)
}

func TestGetMailbox(t *testing.T) {
	env := setupServer(t)

	require.NoError(t, env.idx.Upsert(context.Background(), index.Record{
		Path: filepath.Join(env.root, "inbox"),
		Name: "inbox",
		Kind: "mbox",
	}))

	rr := env.do("GET", "/mailboxes/inbox")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec index.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "mbox", rec.Kind)

	rr = env.do("GET", "/mailboxes/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMessages(t *testing.T) {
	env := setupServer(t)
	env.addMailbox(t, "inbox")

	rr := env.do("GET", "/mailboxes/inbox/messages")
	require.Equal(t, http.StatusOK, rr.Code)
	var infos []mailbox.MessageInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "hello", infos[0].Subject)

	rr = env.do("GET", "/mailboxes/inbox/messages?limit=bogus")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do("GET", "/mailboxes/missing/messages")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRescanQueuesTask(t *testing.T) {
	env := setupServer(t)
	env.addMailbox(t, "inbox")

	rr := env.do("POST", "/mailboxes/inbox/rescan")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, env.queue.Len())

	rr = env.do("POST", "/mailboxes/missing/rescan")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1, env.queue.Len())
}

func TestScanDiscovers(t *testing.T) {
	env := setupServer(t)
	path := filepath.Join(env.root, "old_mail")
	require.NoError(t, os.WriteFile(path, []byte(testMbox), 0o644))

	rr := env.do("POST", "/scan")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["discovered"])

	m, err := env.registry.Get("old mail")
	require.NoError(t, err)
	assert.Equal(t, path, m.Path())
}

func TestStatus(t *testing.T) {
	env := setupServer(t)
	env.addMailbox(t, "inbox")

	rr := env.do("GET", "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.EqualValues(t, 1, status["registered"])
	assert.EqualValues(t, 0, status["queued_tasks"])
}

func TestServeOnUnixSocket(t *testing.T) {
	env := setupServer(t)
	env.addMailbox(t, "inbox")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx) }()

	socket := env.srv.opts.Socket
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (conn net.Conn, err error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}

	var resp *http.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://unix/status")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
