package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/funcflow"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func upperServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoke" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("request_id", "req-1")
		if string(body) == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"errorType":"Boom","errorMessage":"failed"}`))
			return
		}
		_, _ = w.Write(bytes.ToUpper(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestInvokeReadsStdin(t *testing.T) {
	srv := upperServer(t)

	out, _, err := execute(t, "hello", "invoke", "--url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestInvokeReadsFile(t *testing.T) {
	srv := upperServer(t)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	out, _, err := execute(t, "", "invoke", "--url", srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, `{"A":1}`, out)
}

func TestInvokeMissingFile(t *testing.T) {
	_, _, err := execute(t, "", "invoke", "--url", "http://127.0.0.1:1", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read event")
}

func TestInvokeReportsFailure(t *testing.T) {
	srv := upperServer(t)

	out, errOut, err := execute(t, "fail", "invoke", "--url", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "req-1")
	assert.Empty(t, out)
	assert.Contains(t, errOut, `"errorType":"Boom"`)
}

func TestInvokeURLFromEnvironment(t *testing.T) {
	srv := upperServer(t)
	t.Setenv("FUNCFLOW_URL", srv.URL)

	out, _, err := execute(t, "env", "invoke")
	require.NoError(t, err)
	assert.Equal(t, "ENV", out)
}

func TestServeAndInvoke(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout := &syncBuffer{}
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--port", "0", "--log-level", "error"})
	root.SetOut(stdout)
	root.SetErr(io.Discard)

	served := make(chan error, 1)
	go func() { served <- root.ExecuteContext(ctx) }()

	var url string
	require.Eventually(t, func() bool {
		line := stdout.String()
		if !strings.HasPrefix(line, "listening on ") {
			return false
		}
		url = strings.TrimSpace(strings.TrimPrefix(line, "listening on "))
		return true
	}, 5*time.Second, 10*time.Millisecond)

	worker := funcflow.NewClient(funcflow.ClientOptions{BaseURL: url, KeepAlive: true, Logger: funcflow.DiscardLogger()})
	go func() {
		inv, event, err := worker.Next(ctx)
		if err != nil {
			return
		}
		_ = worker.ReportResult(ctx, inv, append([]byte("got "), event...), nil)
	}()

	out, _, err := execute(t, "ping", "invoke", "--url", url)
	require.NoError(t, err)
	assert.Equal(t, "got ping", out)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
