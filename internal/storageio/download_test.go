package storageio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadWithHash(t *testing.T) {
	body := []byte("this is a fake root filesystem image\n")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	destination := filepath.Join(dir, "nested", "root-image.img")

	size, sha256Hex, err := DownloadWithHash(context.Background(), server.Client(), server.URL, destination)
	require.NoError(t, err)
	require.EqualValues(t, len(body), size)

	want := sha256.Sum256(body)
	require.Equal(t, hex.EncodeToString(want[:]), sha256Hex)

	got, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestDownloadWithHashErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	_, _, err := DownloadWithHash(context.Background(), server.Client(), server.URL, filepath.Join(dir, "out.img"))
	require.Error(t, err)
}

func TestSafeRemoveMissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, SafeRemove(filepath.Join(t.TempDir(), "missing.img")))
	require.NoError(t, SafeRemove(""))
}

func TestSaveUploadRewindsSource(t *testing.T) {
	body := []byte("custom uploaded artifact bytes")
	src := bytes.NewReader(body)

	destination := filepath.Join(t.TempDir(), "custom", "uploaded.img")
	size, sha256Hex, err := SaveUpload(src, destination)
	require.NoError(t, err)
	require.EqualValues(t, len(body), size)

	want := sha256.Sum256(body)
	require.Equal(t, hex.EncodeToString(want[:]), sha256Hex)

	rewound, err := io.ReadAll(src)
	require.NoError(t, err)
	require.Equal(t, body, rewound)
}
