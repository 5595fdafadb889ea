package pan

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/open/ufile/downurl", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pick-1", r.PostForm.Get("pick_code"))

		_, _ = w.Write([]byte(`{"state":true,"code":0,"data":{
			"321":{"file_name":"a.bin","file_size":"12","url":{"url":"https://cdn.example/a.bin"}}
		}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	info, err := c.DownloadURL(context.Background(), "pick-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.bin", info.URL)
	assert.Equal(t, "a.bin", info.Name)
	assert.Equal(t, int64(12), info.Size)
}

func TestDownloadURL_NoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":true,"code":0,"data":{"321":{"file_name":"dir","url":{"url":""}}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.DownloadURL(context.Background(), "pick-1")
	assert.ErrorIs(t, err, ErrNoDownloadURL)
}

func TestDownload_StreamsContent(t *testing.T) {
	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/open/ufile/downurl", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"state":true,"code":0,"data":{"1":{"file_name":"a","file_size":"7","url":{"url":"%s/blob"}}}}`, srv.URL)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		// The pre-authenticated URL must not receive the bearer token.
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("content"))
	})

	c := newTestClient(t, srv.URL)

	var buf bytes.Buffer

	n, err := c.Download(context.Background(), "pick-1", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "content", buf.String())
}

func TestDownloadFile_PartialRename(t *testing.T) {
	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/open/ufile/downurl", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"state":true,"code":0,"data":{"1":{"file_name":"a","url":{"url":"%s/blob"}}}}`, srv.URL)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	})

	c := newTestClient(t, srv.URL)

	dest := filepath.Join(t.TempDir(), "a.bin")
	item := &Item{ID: "1", Name: "a.bin", PickCode: "pick-1"}

	require.NoError(t, c.DownloadFile(context.Background(), item, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(dest + ".partial")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownloadFile_FailureLeavesNoPartial(t *testing.T) {
	mux := http.NewServeMux()

	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/open/ufile/downurl", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"state":true,"code":0,"data":{"1":{"file_name":"a","url":{"url":"%s/blob"}}}}`, srv.URL)
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := newTestClient(t, srv.URL)

	dir := t.TempDir()
	dest := filepath.Join(dir, "a.bin")

	err := c.DownloadFile(context.Background(), &Item{ID: "1", Name: "a.bin", PickCode: "p"}, dest)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or final file may remain after a failed download")
}

func TestDownloadFile_NoPickCode(t *testing.T) {
	c := newTestClient(t, "http://unused")

	err := c.DownloadFile(context.Background(), &Item{ID: "1", Name: "dir", IsFolder: true}, "/tmp/x")
	assert.ErrorIs(t, err, ErrNoDownloadURL)
}
