// Package upstream is the HTTP client the mirror engine uses to fetch
// Simplestream indexes and product files, plus read-only browse helpers
// that let an operator discover product_ids before calling intake.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"customstream/internal/models"
	"customstream/internal/storageio"
)

// IndexEntry is one stream's row inside an index.json payload.
type IndexEntry struct {
	Datatype  string   `json:"datatype"`
	Format    string   `json:"format"`
	Path      string   `json:"path"`
	Products  []string `json:"products"`
	Updated   string   `json:"updated"`
	ContentID string   `json:"content_id"`
}

// IndexPayload is the top-level index.json shape.
type IndexPayload struct {
	Format  string                `json:"format"`
	Updated string                `json:"updated"`
	Index   map[string]IndexEntry `json:"index"`
}

// ProductsPayload is a per-stream products file. Product entries are kept as
// opaque models.Meta maps, since upstream payloads carry arbitrary
// additional keys that must be preserved verbatim for republication.
type ProductsPayload struct {
	Datatype  string                 `json:"datatype"`
	Format    string                 `json:"format"`
	Updated   string                 `json:"updated"`
	ContentID string                 `json:"content_id"`
	Products  map[string]models.Meta `json:"products"`
}

// Stream describes one entry from list_streams, for the admin API's
// upstream-browse endpoint.
type Stream struct {
	StreamID string   `json:"stream_id"`
	Path     string   `json:"path"`
	Datatype string   `json:"datatype"`
	Format   string   `json:"format"`
	Products []string `json:"products"`
}

// Product describes one entry from list_products_for_stream.
type Product struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	LatestVersion string `json:"latest_version,omitempty"`
}

// Client fetches upstream JSON with a configured timeout, user-agent, and a
// politeness rate limit.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient builds a Client. qps <= 0 disables the limiter.
func NewClient(timeout time.Duration, userAgent string, qps float64) *Client {
	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		userAgent:  userAgent,
	}
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// FetchIndex fetches and parses index.json.
func (c *Client) FetchIndex(ctx context.Context, indexURL string) (*IndexPayload, error) {
	var payload IndexPayload
	if err := c.getJSON(ctx, indexURL, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchProducts fetches and parses a per-stream products file.
func (c *Client) FetchProducts(ctx context.Context, productsURL string) (*ProductsPayload, error) {
	var payload ProductsPayload
	if err := c.getJSON(ctx, productsURL, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchRaw fetches rawURL's body without decoding it into a fixed shape. The
// mirror engine uses this to walk a product file's "versions"/"items"
// objects with encoding/json.Decoder token-by-token, since unmarshalling
// straight into map[string]interface{} discards upstream key order, and
// item downloads must proceed in the upstream items map's own insertion
// order.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return json.RawMessage(body), nil
}

// OrderedObjectKeys returns a JSON object's top-level keys in their original
// source order, using encoding/json.Decoder's token stream rather than
// unmarshalling into a map (which does not preserve order).
func OrderedObjectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read object open token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string object key")
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("skip value for key %q: %w", key, err)
		}
	}
	return keys, nil
}

// Download fetches url's body to destination under the same politeness rate
// limit as the metadata fetches, returning its size and hex SHA-256.
func (c *Client) Download(ctx context.Context, url, destination string) (int64, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, "", fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return storageio.DownloadWithHash(ctx, c.httpClient, url, destination)
}

// ResolveRootBase truncates indexURL's path at "/streams/" and keeps the
// directory prefix with a trailing slash, so relative paths in the index and
// product files resolve against it.
func ResolveRootBase(indexURL string) (string, error) {
	parsed, err := url.Parse(indexURL)
	if err != nil {
		return "", fmt.Errorf("parse index_url: %w", err)
	}

	marker := "/streams/"
	idx := strings.Index(parsed.Path, marker)
	var base string
	if idx >= 0 {
		base = parsed.Path[:idx+1]
	} else {
		base = parsed.Path
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
	}

	parsed.Path = base
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// JoinRelative joins a root base URL with a relative path the way the
// upstream payload expresses item/product locations.
func JoinRelative(rootBase, relative string) string {
	return strings.TrimSuffix(rootBase, "/") + "/" + strings.TrimPrefix(relative, "/")
}

// LatestVersionKey returns the lexicographically greatest key in versions.
// Returns false if versions is empty.
func LatestVersionKey(versions map[string]interface{}) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[len(keys)-1], true
}

// ListStreams lists the streams advertised by an upstream index, without
// mirroring anything.
func (c *Client) ListStreams(ctx context.Context, indexURL string) ([]Stream, error) {
	index, err := c.FetchIndex(ctx, indexURL)
	if err != nil {
		return nil, err
	}

	streams := make([]Stream, 0, len(index.Index))
	for streamID, entry := range index.Index {
		streams = append(streams, Stream{
			StreamID: streamID,
			Path:     entry.Path,
			Datatype: entry.Datatype,
			Format:   entry.Format,
			Products: entry.Products,
		})
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].StreamID < streams[j].StreamID })
	return streams, nil
}

// ListProducts lists products for one stream, sorted by (latest version key
// desc, product_id desc).
func (c *Client) ListProducts(ctx context.Context, indexURL, streamID string) ([]Product, error) {
	index, err := c.FetchIndex(ctx, indexURL)
	if err != nil {
		return nil, err
	}
	entry, ok := index.Index[streamID]
	if !ok {
		return nil, fmt.Errorf("stream %q not found in index", streamID)
	}

	rootBase, err := ResolveRootBase(indexURL)
	if err != nil {
		return nil, err
	}

	products, err := c.FetchProducts(ctx, JoinRelative(rootBase, entry.Path))
	if err != nil {
		return nil, err
	}

	type sortable struct {
		product Product
		latest  string
	}
	var sortables []sortable
	for productID, meta := range products.Products {
		latest := ""
		if versions, ok := meta["versions"].(map[string]interface{}); ok {
			if key, ok := LatestVersionKey(versions); ok {
				latest = key
			}
		}
		sortables = append(sortables, sortable{
			product: Product{
				ProductID:     productID,
				Name:          productName(meta),
				LatestVersion: latest,
			},
			latest: latest,
		})
	}

	sort.Slice(sortables, func(i, j int) bool {
		if sortables[i].latest != sortables[j].latest {
			return sortables[i].latest > sortables[j].latest
		}
		return sortables[i].product.ProductID > sortables[j].product.ProductID
	})

	result := make([]Product, len(sortables))
	for i, s := range sortables {
		result[i] = s.product
	}
	return result, nil
}

func productName(meta models.Meta) string {
	release := stringField(meta, "release_title")
	if release == "" {
		release = stringField(meta, "release")
	}
	if release == "" {
		release = "Unknown release"
	}
	arch := stringField(meta, "arch")
	if arch == "" {
		arch = "unknown"
	}
	name := fmt.Sprintf("%s %s", release, arch)
	if subarch := stringField(meta, "subarch"); subarch != "" {
		name = fmt.Sprintf("%s (%s)", name, subarch)
	}
	return name
}

func stringField(meta models.Meta, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
