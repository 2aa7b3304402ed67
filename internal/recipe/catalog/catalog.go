// Package catalog resolves recipe_id arguments to recipe documents. The
// catalog is a thin front door onto two sources the engine is agnostic to:
// a local directory of recipe JSON files, or a remote manifest URL that
// points at individually-fetchable documents. Recipe ingestion, search, and
// persistence live outside this repository (spec.md §1 Non-goals); this
// package only resolves "local"/"remote" per the recipes_source config
// option (spec.md §6.4).
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cooksession/cooksession/internal/common/config"
	"github.com/cooksession/cooksession/internal/recipe/model"
)

// Summary is the listing shape list_available_recipes returns.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Catalog resolves recipe ids to loaded, validated documents.
type Catalog interface {
	List() ([]Summary, error)
	Load(recipeID string) (*model.Recipe, []byte, error)
}

// New builds a Catalog from configuration: a LocalCatalog for
// recipes.source=local, a RemoteCatalog for recipes.source=remote.
func New(cfg config.RecipesConfig) Catalog {
	if cfg.Source == "remote" {
		return &RemoteCatalog{ManifestURL: cfg.ManifestURL, client: &http.Client{Timeout: 10 * time.Second}}
	}
	return &LocalCatalog{Dir: cfg.Dir}
}

// LocalCatalog reads *.json recipe documents from a directory.
type LocalCatalog struct {
	Dir string
}

func (c *LocalCatalog) files() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading recipes dir %q: %w", c.Dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(c.Dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// List enumerates every recipe the local directory exposes.
func (c *LocalCatalog) List() ([]Summary, error) {
	files, err := c.files()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		r, err := model.Decode(data)
		if err != nil {
			continue
		}
		out = append(out, Summary{ID: r.Meta.ID, Title: r.Meta.Title})
	}
	return out, nil
}

// Load finds and decodes the recipe with the given id.
func (c *LocalCatalog) Load(recipeID string) (*model.Recipe, []byte, error) {
	files, err := c.files()
	if err != nil {
		return nil, nil, err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		r, err := model.Decode(data)
		if err != nil {
			continue
		}
		if r.Meta.ID == recipeID {
			return r, data, nil
		}
	}
	return nil, nil, fmt.Errorf("recipe %q not found in %s", recipeID, c.Dir)
}

// RemoteCatalog fetches a manifest (a JSON array of {id, title, url}) and
// individual documents over HTTP. This is a minimal client, not the
// discovery/search service itself, which remains out of scope.
type RemoteCatalog struct {
	ManifestURL string
	client      *http.Client
}

type manifestEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (c *RemoteCatalog) fetchManifest() ([]manifestEntry, error) {
	resp, err := c.client.Get(c.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("manifest request returned status %d", resp.StatusCode)
	}

	var entries []manifestEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return entries, nil
}

// List enumerates every recipe the remote manifest advertises.
func (c *RemoteCatalog) List() ([]Summary, error) {
	entries, err := c.fetchManifest()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, Summary{ID: e.ID, Title: e.Title})
	}
	return out, nil
}

// Load fetches and decodes the recipe with the given id.
func (c *RemoteCatalog) Load(recipeID string) (*model.Recipe, []byte, error) {
	entries, err := c.fetchManifest()
	if err != nil {
		return nil, nil, err
	}
	var url string
	for _, e := range entries {
		if e.ID == recipeID {
			url = e.URL
			break
		}
	}
	if url == "" {
		return nil, nil, fmt.Errorf("recipe %q not found in manifest", recipeID)
	}

	resp, err := c.client.Get(url)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching recipe %q: %w", recipeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading recipe %q: %w", recipeID, err)
	}

	r, err := model.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding recipe %q: %w", recipeID, err)
	}
	return r, data, nil
}
