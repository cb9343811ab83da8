package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/jmoiron/sqlx"

	"customstream/internal/catalog"
	"customstream/internal/models"
	"customstream/internal/publisher"
	"customstream/internal/storageio"
	"customstream/internal/upstream"
)

// Engine implements mirror_product(index_url, product_id) -> image_id, the
// only component that touches both the catalog store and the network.
type Engine struct {
	store       *catalog.Store
	upstream    *upstream.Client
	publisher   *publisher.Publisher
	storageRoot string
}

// NewEngine builds an Engine.
func NewEngine(store *catalog.Store, client *upstream.Client, pub *publisher.Publisher, storageRoot string) *Engine {
	return &Engine{store: store, upstream: client, publisher: pub, storageRoot: storageRoot}
}

// downloadedArtifact accumulates one successfully-downloaded item until the
// promote step inserts it as an Artifact row.
type downloadedArtifact struct {
	name         string
	ftype        string
	relativePath string
	size         int64
	sha256Hex    string
	sourceURL    string
}

// MirrorProduct resolves, downloads, and publishes a single product and
// returns the resulting Image's id.
func (e *Engine) MirrorProduct(ctx context.Context, indexURL, productID string) (int, error) {
	// Step 1: fetch index.
	index, err := e.upstream.FetchIndex(ctx, indexURL)
	if err != nil {
		return 0, Upstreamf(err, "fetch index %s", indexURL)
	}

	// Step 2: locate the stream advertising this product.
	streamID, entry, err := locateStream(index, productID)
	if err != nil {
		return 0, err
	}

	// Step 3: upsert the stream row.
	stream, err := e.upsertStream(ctx, streamID, entry, indexURL)
	if err != nil {
		return 0, err
	}

	// Step 4: compute the root base URL for resolving relative paths.
	rootBase, err := upstream.ResolveRootBase(indexURL)
	if err != nil {
		return 0, Upstreamf(err, "resolve root base for %s", indexURL)
	}

	// Step 5: fetch the stream's product file, keeping raw bytes so the
	// items object can be walked in upstream's own key order.
	productsURL := upstream.JoinRelative(rootBase, entry.Path)
	productRaw, err := e.fetchProductRaw(ctx, productsURL, productID)
	if err != nil {
		return 0, err
	}

	// Step 6: select the latest version.
	entryMeta, key, versionData, versionKeys, orderedItemNames, itemsRawByName, err := decodeProduct(productRaw)
	if err != nil {
		return 0, Upstreamf(err, "decode product %s", productID)
	}
	diagnoseVersionSelection(versionKeys, key)

	// Step 7: evict any predecessor Image for (stream, product).
	if err := e.evictPredecessor(ctx, stream.ID, productID); err != nil {
		return 0, err
	}

	// Step 8: create the Image row in status=mirroring with an
	// initial meta that has an empty items map for the selected version,
	// and commit before any downloads start.
	initialMeta := buildInitialMeta(entryMeta, key, versionData)
	image, err := e.createMirroringImage(ctx, stream.ID, productID, productsURL, indexURL, entryMeta, key, initialMeta)
	if err != nil {
		return 0, err
	}

	// Step 9: download each item in upstream's insertion order, patching
	// meta and accumulating Artifact rows to insert at promote time.
	artifacts, downloadErr := e.downloadItems(ctx, rootBase, orderedItemNames, itemsRawByName, initialMeta, key)
	if downloadErr != nil {
		return 0, e.fail(ctx, image.ID, initialMeta, downloadErr)
	}

	// Step 10: promote to ready.
	if err := e.promote(ctx, image.ID, initialMeta, artifacts); err != nil {
		return 0, e.fail(ctx, image.ID, initialMeta, err)
	}

	// Step 11: republish the tree.
	if err := e.publisher.Rebuild(ctx); err != nil {
		return 0, Storagef(err, "publish tree after mirroring %s", productID)
	}

	return image.ID, nil
}

func locateStream(index *upstream.IndexPayload, productID string) (string, *upstream.IndexEntry, error) {
	for streamID, entry := range index.Index {
		for _, p := range entry.Products {
			if p == productID {
				e := entry
				return streamID, &e, nil
			}
		}
	}
	return "", nil, Upstreamf(nil, "product_id %q not advertised by any stream in this index", productID)
}

func (e *Engine) upsertStream(ctx context.Context, streamID string, entry *upstream.IndexEntry, indexURL string) (*models.Stream, error) {
	var stream *models.Stream
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		s, err := e.store.Streams.Upsert(ctx, tx, &models.Stream{
			StreamID:       streamID,
			Path:           entry.Path,
			Datatype:       entry.Datatype,
			Format:         entry.Format,
			SourceIndexURL: indexURL,
		})
		if err != nil {
			return Invariantf(err, "upsert stream %s", streamID)
		}
		stream = s
		return nil
	})
	return stream, err
}

// fetchProductRaw fetches productsURL and returns the raw JSON for
// productID's entry inside its "products" object.
func (e *Engine) fetchProductRaw(ctx context.Context, productsURL, productID string) (json.RawMessage, error) {
	raw, err := e.upstream.FetchRaw(ctx, productsURL)
	if err != nil {
		return nil, Upstreamf(err, "fetch products file %s", productsURL)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, Upstreamf(err, "parse products file %s", productsURL)
	}

	var products map[string]json.RawMessage
	if err := json.Unmarshal(top["products"], &products); err != nil {
		return nil, Upstreamf(err, "parse products object in %s", productsURL)
	}

	productRaw, ok := products[productID]
	if !ok {
		return nil, Upstreamf(nil, "product_id %q not present in %s", productID, productsURL)
	}
	return productRaw, nil
}

// decodeProduct parses one product's raw JSON, selects the latest version by
// lexicographic-max over version keys, and returns the version's items in
// upstream's own insertion order.
func decodeProduct(productRaw json.RawMessage) (entryMeta models.Meta, key string, versionData models.Meta, versionKeys []string, orderedNames []string, itemsRawByName map[string]json.RawMessage, err error) {
	if err = json.Unmarshal(productRaw, &entryMeta); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode product entry: %w", err)
	}

	var productFields map[string]json.RawMessage
	if err = json.Unmarshal(productRaw, &productFields); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode product fields: %w", err)
	}
	versionsRaw, ok := productFields["versions"]
	if !ok {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("product has no versions object")
	}

	var versionsGeneric map[string]interface{}
	if err = json.Unmarshal(versionsRaw, &versionsGeneric); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode versions: %w", err)
	}
	key, ok = upstream.LatestVersionKey(versionsGeneric)
	if !ok {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("product has no versions")
	}
	versionKeys = make([]string, 0, len(versionsGeneric))
	for k := range versionsGeneric {
		versionKeys = append(versionKeys, k)
	}

	var versionsFields map[string]json.RawMessage
	if err = json.Unmarshal(versionsRaw, &versionsFields); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode versions fields: %w", err)
	}
	versionRaw := versionsFields[key]
	if err = json.Unmarshal(versionRaw, &versionData); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode selected version: %w", err)
	}

	var versionFields map[string]json.RawMessage
	if err = json.Unmarshal(versionRaw, &versionFields); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode version fields: %w", err)
	}
	itemsRaw, ok := versionFields["items"]
	if !ok {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("version %s has no items object", key)
	}

	orderedNames, err = upstream.OrderedObjectKeys(itemsRaw)
	if err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("walk items in order: %w", err)
	}
	if err = json.Unmarshal(itemsRaw, &itemsRawByName); err != nil {
		return nil, "", nil, nil, nil, nil, fmt.Errorf("decode items: %w", err)
	}

	return entryMeta, key, versionData, versionKeys, orderedNames, itemsRawByName, nil
}

// diagnoseVersionSelection logs, without altering behaviour, when the
// lexicographic-max version key this engine actually selects disagrees with
// what a semver-aware max would have picked. Decided in DESIGN.md: preserve
// lexicographic selection but surface the diagnostic.
func diagnoseVersionSelection(versionKeys []string, lexicographicKey string) {
	var parsed []*semver.Version
	byVersion := map[*semver.Version]string{}
	for _, k := range versionKeys {
		v, err := semver.NewVersion(k)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
		byVersion[v] = k
	}
	if len(parsed) < 2 {
		return
	}
	sort.Sort(semver.Collection(parsed))
	semverMax := byVersion[parsed[len(parsed)-1]]
	if semverMax != lexicographicKey {
		slog.Warn("mirror: lexicographic and semver version selection disagree",
			"lexicographic_winner", lexicographicKey, "semver_winner", semverMax)
	}
}

func (e *Engine) evictPredecessor(ctx context.Context, streamPK int, productID string) error {
	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := e.store.Images.GetByStreamAndProduct(ctx, tx, streamPK, productID)
		if err != nil {
			return Invariantf(err, "look up predecessor image")
		}
		if existing == nil {
			return nil
		}

		artifacts, err := e.store.Artifacts.ListByImageID(ctx, tx, existing.ID)
		if err != nil {
			return Invariantf(err, "list predecessor artifacts")
		}
		for _, a := range artifacts {
			if err := safeRemoveArtifact(e.storageRoot, a.RelativePath); err != nil {
				return Storagef(err, "remove superseded artifact %s", a.RelativePath)
			}
		}

		if err := e.store.Artifacts.DeleteByImageID(ctx, tx, existing.ID); err != nil {
			return Invariantf(err, "delete predecessor artifacts")
		}
		if err := e.store.Images.Delete(ctx, tx, existing.ID); err != nil {
			return Invariantf(err, "delete predecessor image")
		}
		return nil
	})
}

func (e *Engine) createMirroringImage(ctx context.Context, streamPK int, productID, productsURL, indexURL string, entryMeta models.Meta, versionKey string, initialMeta models.Meta) (*models.Image, error) {
	img := &models.Image{
		StreamID:         streamPK,
		ProductID:        productID,
		Name:             deriveImageName(entryMeta),
		ImageType:        models.ImageTypeMirrored,
		Status:           models.ImageStatusMirroring,
		OriginProductURL: productsURL,
		OriginIndexURL:   indexURL,
		OS:               metaString(entryMeta, "os"),
		Release:          metaString(entryMeta, "release"),
		ReleaseCodename:  metaString(entryMeta, "release_codename"),
		Version:          metaString(entryMeta, "version"),
		Arch:             metaString(entryMeta, "arch"),
		Subarch:          metaString(entryMeta, "subarch"),
		Label:            metaString(entryMeta, "label"),
		Kflavor:          metaString(entryMeta, "kflavor"),
		Krel:             metaString(entryMeta, "krel"),
		BuildID:          versionKey,
		Meta:             initialMeta,
	}

	var created *models.Image
	err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		c, err := e.store.Images.Create(ctx, tx, img)
		if err != nil {
			return Invariantf(err, "create image for %s", productID)
		}
		created = c
		return nil
	})
	return created, err
}

// downloadItems downloads every item in order, patching initialMeta in
// place and returning the rows to persist at promote time. It returns on
// the first failure; partial items are not retried individually.
func (e *Engine) downloadItems(ctx context.Context, rootBase string, orderedNames []string, itemsRawByName map[string]json.RawMessage, initialMeta models.Meta, versionKey string) ([]downloadedArtifact, error) {
	artifacts := make([]downloadedArtifact, 0, len(orderedNames))

	for _, name := range orderedNames {
		var itemMeta models.Meta
		if err := json.Unmarshal(itemsRawByName[name], &itemMeta); err != nil {
			return nil, Downloadf(err, "decode item %s", name)
		}

		relativePath := metaString(itemMeta, "path")
		if relativePath == "" {
			return nil, Downloadf(nil, "item %s has no path", name)
		}
		sourceURL := upstream.JoinRelative(rootBase, relativePath)
		destination := filepath.Join(e.storageRoot, filepath.FromSlash(relativePath))

		size, sha256Hex, err := e.upstream.Download(ctx, sourceURL, destination)
		if err != nil {
			_ = safeRemoveArtifact(e.storageRoot, relativePath)
			return nil, Downloadf(err, "download item %s from %s", name, sourceURL)
		}

		patchItem(initialMeta, versionKey, name, itemMeta)

		ftype := metaString(itemMeta, "ftype")
		if ftype == "" {
			ftype = name
		}
		artifacts = append(artifacts, downloadedArtifact{
			name:         name,
			ftype:        ftype,
			relativePath: relativePath,
			size:         size,
			sha256Hex:    sha256Hex,
			sourceURL:    sourceURL,
		})
	}

	return artifacts, nil
}

func (e *Engine) promote(ctx context.Context, imageID int, meta models.Meta, artifacts []downloadedArtifact) error {
	readyMeta := meta.Clone()
	delete(readyMeta, "status_detail")

	return e.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, a := range artifacts {
			if err := e.store.Artifacts.Create(ctx, tx, &models.Artifact{
				ImageID:      imageID,
				Name:         a.name,
				Ftype:        a.ftype,
				RelativePath: a.relativePath,
				Size:         a.size,
				SHA256:       a.sha256Hex,
				SourceURL:    a.sourceURL,
			}); err != nil {
				return Invariantf(err, "persist artifact %s", a.name)
			}
		}
		if err := e.store.Images.UpdateStatusAndMeta(ctx, tx, imageID, models.ImageStatusReady, readyMeta); err != nil {
			return Invariantf(err, "promote image %d to ready", imageID)
		}
		return nil
	})
}

// fail writes meta.error and status=error, republishes so the tree reflects
// the failure, and re-raises the original error.
func (e *Engine) fail(ctx context.Context, imageID int, meta models.Meta, cause error) error {
	errorMeta := meta.Clone()
	delete(errorMeta, "status_detail")
	errorMeta["error"] = cause.Error()

	if err := e.withTx(ctx, func(tx *sqlx.Tx) error {
		return e.store.Images.UpdateStatusAndMeta(ctx, tx, imageID, models.ImageStatusError, errorMeta)
	}); err != nil {
		slog.Error("failed to record mirror error on image", "image_id", imageID, "error", err)
	}

	if err := e.publisher.Rebuild(ctx); err != nil {
		slog.Error("failed to publish tree after mirror failure", "image_id", imageID, "error", err)
	}

	return cause
}

func (e *Engine) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return Invariantf(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Invariantf(err, "commit transaction")
	}
	return nil
}

func safeRemoveArtifact(storageRoot, relativePath string) error {
	if relativePath == "" {
		return nil
	}
	return storageio.SafeRemove(filepath.Join(storageRoot, filepath.FromSlash(relativePath)))
}

// buildInitialMeta initialises an Image's meta at creation time: a deep copy
// of the product entry minus "versions", plus a versions object holding only
// the selected version with an empty items map (populated item-by-item as
// downloads complete) and a human-readable status_detail.
func buildInitialMeta(entryMeta models.Meta, key string, versionData models.Meta) models.Meta {
	m := entryMeta.Clone()
	delete(m, "versions")

	vCopy := versionData.Clone()
	vCopy["items"] = map[string]interface{}{}

	m["versions"] = map[string]interface{}{key: map[string]interface{}(vCopy)}
	m["status_detail"] = "Downloading artifacts"
	return m
}

// patchItem writes one downloaded item's metadata into meta.versions[key].items[name].
func patchItem(meta models.Meta, key, name string, itemMeta models.Meta) {
	versions, ok := meta["versions"].(map[string]interface{})
	if !ok {
		return
	}
	versionData, ok := versions[key].(map[string]interface{})
	if !ok {
		return
	}
	items, ok := versionData["items"].(map[string]interface{})
	if !ok {
		items = map[string]interface{}{}
	}
	items[name] = map[string]interface{}(itemMeta.Clone())
	versionData["items"] = items
	versions[key] = versionData
	meta["versions"] = versions
}

func deriveImageName(entryMeta models.Meta) string {
	title := metaString(entryMeta, "release_title")
	if title == "" {
		title = metaString(entryMeta, "label")
	}
	if title == "" {
		title = "Image"
	}
	if arch := metaString(entryMeta, "arch"); arch != "" {
		return fmt.Sprintf("%s (%s)", title, arch)
	}
	return title
}

func metaString(m models.Meta, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
