package main

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_doMain(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		rf     replayFn
		expOut string
	}{
		{
			name:   "version",
			args:   []string{"version"},
			expOut: "vrreplay: dev\n",
		},
		{
			name: "replay",
			args: []string{"replay", "--docroot", "/srv", "--workers", "2", "--memory-limit", "-1", "--debug", "a.txt", "-"},
			rf: func(c cmdReplay, stdin io.Reader, stdout, stderr io.Writer) error {
				require.Equal(t, "/srv", c.DocRoot)
				require.Equal(t, 2, c.Workers)
				require.Equal(t, int64(-1), c.MemoryLimit)
				require.True(t, c.Debug)
				require.False(t, c.Metrics)
				require.Equal(t, "warn", c.LogLevel)
				require.Equal(t, 10*time.Second, c.Timeout)
				require.Equal(t, []string{"a.txt", "-"}, c.Files)
				return nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			doMain(strings.NewReader(""), out, os.Stderr, tt.args, tt.rf)
			require.Equal(t, tt.expOut, out.String())
		})
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello world"), 0o644))
	reqs := filepath.Join(t.TempDir(), "reqs.http")
	require.NoError(t, os.WriteFile(reqs, []byte(
		"GET /hello.txt HTTP/1.1\r\nHost: a\r\n\r\n"+
			"GET /missing HTTP/1.1\r\nHost: a\r\n\r\n"), 0o644))

	stdin := strings.NewReader("POST /echo/x HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\nConnection: close\r\n\r\nping")
	out := &bytes.Buffer{}
	c := cmdReplay{
		DocRoot:  dir,
		Workers:  2,
		LogLevel: "none",
		Metrics:  true,
		Timeout:  5 * time.Second,
		Files:    []string{reqs, "-"},
	}
	require.NoError(t, replay(c, stdin, out, io.Discard))

	r := bufio.NewReader(out)
	read := func() (*http.Response, string) {
		resp, err := http.ReadResponse(r, &http.Request{Method: http.MethodGet})
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(b)
	}

	resp, body := read()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello world", body)

	resp, _ = read()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = read()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ping", body)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Contains(t, string(rest), "vrequest_resets_total")
}
