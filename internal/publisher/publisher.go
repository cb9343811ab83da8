// Package publisher rebuilds the on-disk Simplestream tree (index.json plus
// one products file per stream) from a consistent catalog-store snapshot.
// Every rebuild is a full overwrite; there is no incremental patching.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"customstream/internal/catalog"
	"customstream/internal/models"
	"customstream/internal/replicate"
)

const (
	indexFormat    = "index:1.0"
	productsFormat = "products:1.0"
)

// Publisher rebuilds storageRoot's streams/v1 tree from the catalog store.
type Publisher struct {
	store       *catalog.Store
	storageRoot string
	replica     *replicate.Client
}

// New builds a Publisher. replica may be nil, meaning off-site replication
// is disabled.
func New(store *catalog.Store, storageRoot string, replica *replicate.Client) *Publisher {
	return &Publisher{store: store, storageRoot: storageRoot, replica: replica}
}

type indexStreamEntry struct {
	Datatype  string   `json:"datatype"`
	Format    string   `json:"format"`
	Path      string   `json:"path"`
	Products  []string `json:"products"`
	Updated   string   `json:"updated"`
	ContentID string   `json:"content_id"`
}

type indexFile struct {
	Format  string                      `json:"format"`
	Updated string                      `json:"updated"`
	Index   map[string]indexStreamEntry `json:"index"`
}

type productsFile struct {
	Datatype  string                 `json:"datatype"`
	Format    string                 `json:"format"`
	Updated   string                 `json:"updated"`
	ContentID string                 `json:"content_id"`
	Products  map[string]models.Meta `json:"products"`
}

// Rebuild reads every Stream/Image/Artifact from the catalog store and
// overwrites streams/v1/index.json and, for every stream that still has at
// least one Image, the products file at storageRoot/<stream.path>. Streams
// with zero Images are omitted entirely. An Artifact row's path/size/sha256
// always win over whatever the corresponding item_meta says.
func (p *Publisher) Rebuild(ctx context.Context) error {
	streams, err := p.store.Streams.ListWithImagesAndArtifacts(ctx, p.store.Queryer())
	if err != nil {
		return fmt.Errorf("snapshot catalog for publish: %w", err)
	}

	updated := rfc1123Now()
	streamsDir := filepath.Join(p.storageRoot, "streams", "v1")
	if err := os.MkdirAll(streamsDir, 0o755); err != nil {
		return fmt.Errorf("create streams dir: %w", err)
	}

	index := indexFile{
		Format:  indexFormat,
		Updated: updated,
		Index:   make(map[string]indexStreamEntry, len(streams)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range streams {
		stream := streams[i]
		if gctx.Err() != nil {
			break
		}
		if len(stream.Images) == 0 {
			continue
		}

		productIDs := make([]string, 0, len(stream.Images))
		for _, img := range stream.Images {
			productIDs = append(productIDs, img.ProductID)
		}
		sort.Strings(productIDs)

		index.Index[stream.StreamID] = indexStreamEntry{
			Datatype:  stream.Datatype,
			Format:    stream.Format,
			Path:      stream.Path,
			Products:  productIDs,
			Updated:   updated,
			ContentID: contentID(stream.StreamID),
		}

		g.Go(func() error {
			return p.writeProductsFile(stream, updated, filepath.Join(p.storageRoot, filepath.FromSlash(stream.Path)))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	indexPath := filepath.Join(streamsDir, "index.json")
	if err := writeJSONAtomic(indexPath, index); err != nil {
		return err
	}
	p.replicateFile(ctx, indexPath, "streams/v1/index.json")
	return nil
}

func (p *Publisher) writeProductsFile(stream models.Stream, updated, destination string) error {
	file := productsFile{
		Datatype:  stream.Datatype,
		Format:    productsFormat,
		Updated:   updated,
		ContentID: contentID(stream.StreamID),
		Products:  make(map[string]models.Meta, len(stream.Images)),
	}

	for _, img := range stream.Images {
		file.Products[img.ProductID] = buildImageEntry(img)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", destination, err)
	}
	if err := writeJSONAtomic(destination, file); err != nil {
		return err
	}
	p.replicateFile(context.Background(), destination, filepath.ToSlash(stream.Path))
	return nil
}

// replicateFile best-effort pushes a just-written file to the configured
// replica bucket. Replication failures are logged, not propagated: the
// locally-published tree is the durable source of truth.
func (p *Publisher) replicateFile(ctx context.Context, localPath, key string) {
	if p.replica == nil {
		return
	}
	if err := p.replica.PutFile(ctx, localPath, key); err != nil {
		slog.Error("publisher: replication failed", "key", key, "error", err)
	}
}

// buildImageEntry builds one product's published entry: a deep copy of the
// Image's meta, topped up with fallback defaults from the descriptive
// columns, with each version's items overlaid by the Artifact rows (an
// Artifact with no matching item adds one; path/size/sha256/ftype always win
// over item_meta, every other key on the item is preserved), and nil values
// stripped from maps.
func buildImageEntry(img models.Image) models.Meta {
	entry := img.Meta.Clone()

	applyFallback(entry, "os", img.OS)
	applyFallback(entry, "release", img.Release)
	applyFallback(entry, "release_codename", img.ReleaseCodename)
	applyFallback(entry, "version", img.Version)
	applyFallback(entry, "arch", img.Arch)
	applyFallback(entry, "subarch", img.Subarch)
	applyFallback(entry, "label", img.Label)
	applyFallback(entry, "kflavor", img.Kflavor)
	applyFallback(entry, "krel", img.Krel)
	applyFallback(entry, "build_id", img.BuildID)

	if versions, ok := entry["versions"].(map[string]interface{}); ok {
		overrides := make(map[string]models.Artifact, len(img.Artifacts))
		for _, a := range img.Artifacts {
			overrides[a.Name] = a
		}
		for key := range versions {
			versionData, ok := versions[key].(map[string]interface{})
			if !ok {
				continue
			}
			items, ok := versionData["items"].(map[string]interface{})
			if !ok {
				items = map[string]interface{}{}
			}
			for name, a := range overrides {
				item, ok := items[name].(map[string]interface{})
				if !ok {
					item = map[string]interface{}{}
				}
				ftype := a.Ftype
				if ftype == "" {
					ftype = a.Name
				}
				item["path"] = a.RelativePath
				item["size"] = a.Size
				item["sha256"] = a.SHA256
				item["ftype"] = ftype
				items[name] = item
			}
			versionData["items"] = items
			versions[key] = versionData
		}
		entry["versions"] = versions
	}

	stripped := stripNils(map[string]interface{}(entry))
	if m, ok := stripped.(map[string]interface{}); ok {
		return models.Meta(m)
	}
	return entry
}

func applyFallback(entry models.Meta, key, value string) {
	if value == "" {
		return
	}
	if existing, ok := entry[key].(string); ok && existing != "" {
		return
	}
	entry[key] = value
}

func stripNils(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = stripNils(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = stripNils(val)
		}
		return t
	default:
		return v
	}
}

func contentID(streamID string) string {
	return streamID
}

func rfc1123Now() string {
	return time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05") + " +0000"
}

func writeJSONAtomic(destination string, payload interface{}) error {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", destination, err)
	}

	tmp := destination + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, destination); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
