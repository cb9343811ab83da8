package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"customstream/internal/models"
	"customstream/internal/publisher"
	"customstream/internal/upstream"
)

func newTestEngine(t *testing.T, upstreamURL string) (*Engine, string) {
	t.Helper()
	store := newTestStore(t)
	storageRoot := t.TempDir()
	client := upstream.NewClient(5*time.Second, "customstream-mirror/1.0", 0)
	pub := publisher.New(store, storageRoot, nil)
	return NewEngine(store, client, pub, storageRoot), storageRoot
}

func newFakeUpstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/streams/v1/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"format": "index:1.0",
			"updated": "Mon, 01 Jan 2024 00:00:00 +0000",
			"index": {
				"com.example.maas:v3:download": {
					"datatype": "image-downloads",
					"format": "products:1.0",
					"path": "streams/v1/com.example.maas_v3_download.json",
					"products": ["com.example.maas:jammy:amd64"]
				}
			}
		}`)
	})

	mux.HandleFunc("/streams/v1/com.example.maas_v3_download.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"datatype": "image-downloads",
			"format": "products:1.0",
			"products": {
				"com.example.maas:jammy:amd64": {
					"os": "ubuntu",
					"release": "jammy",
					"arch": "amd64",
					"versions": {
						"20230101": {
							"items": {
								"root-image.gz": {"path": "jammy/amd64/20230101/root-image.gz", "ftype": "root-image.gz"}
							}
						},
						"20240101": {
							"items": {
								"root-image.gz": {"path": "jammy/amd64/20240101/root-image.gz", "ftype": "root-image.gz"}
							}
						}
					}
				}
			}
		}`)
	})

	mux.HandleFunc("/jammy/amd64/20240101/root-image.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake root filesystem bytes"))
	})

	return httptest.NewServer(mux)
}

func TestEngineMirrorProductHappyPath(t *testing.T) {
	server := newFakeUpstreamServer(t)
	defer server.Close()

	engine, storageRoot := newTestEngine(t, server.URL)
	ctx := context.Background()

	imageID, err := engine.MirrorProduct(ctx, server.URL+"/streams/v1/index.json", "com.example.maas:jammy:amd64")
	require.NoError(t, err)
	require.NotZero(t, imageID)

	data, err := os.ReadFile(filepath.Join(storageRoot, "jammy", "amd64", "20240101", "root-image.gz"))
	require.NoError(t, err)
	require.Equal(t, "fake root filesystem bytes", string(data))

	indexData, err := os.ReadFile(filepath.Join(storageRoot, "streams", "v1", "index.json"))
	require.NoError(t, err)
	var index map[string]interface{}
	require.NoError(t, json.Unmarshal(indexData, &index))
	idx := index["index"].(map[string]interface{})
	require.Contains(t, idx, "com.example.maas:v3:download")
}

func TestEngineMirrorProductUnknownProductFails(t *testing.T) {
	server := newFakeUpstreamServer(t)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	_, err := engine.MirrorProduct(context.Background(), server.URL+"/streams/v1/index.json", "com.example.maas:not-real:amd64")
	require.Error(t, err)

	var mirrorErr *Error
	require.ErrorAs(t, err, &mirrorErr)
	require.Equal(t, KindUpstream, mirrorErr.Kind)
}

func TestEngineMirrorProductDownloadFailureMarksImageError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/v1/index.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"format": "index:1.0",
			"index": {
				"s1": {
					"path": "streams/v1/s1.json",
					"products": ["p1"]
				}
			}
		}`)
	})
	mux.HandleFunc("/streams/v1/s1.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"products": {
				"p1": {
					"versions": {
						"20240101": {
							"items": {
								"missing.img": {"path": "missing/missing.img"}
							}
						}
					}
				}
			}
		}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	_, err := engine.MirrorProduct(context.Background(), server.URL+"/streams/v1/index.json", "p1")
	require.Error(t, err)

	var mirrorErr *Error
	require.ErrorAs(t, err, &mirrorErr)
	require.Equal(t, KindDownload, mirrorErr.Kind)

	images, err := engine.store.Images.List(context.Background(), engine.store.Queryer())
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, models.ImageStatusError, images[0].Status)
}
