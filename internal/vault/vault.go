// Package vault holds the in-memory representation of a document collection.
// Documents are loaded once, mutated in place by property operations, and
// persisted in a single pass after the operator confirms.
package vault

import (
	"fmt"
	"path/filepath"

	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/parser"
	"github.com/starford/othala/internal/storage"
)

// Document is a vault file with a live frontmatter mapping. Metadata
// mutations go through Has/Get/Set/Remove so the document can track whether
// it needs to be re-rendered and written back.
type Document struct {
	models.Document

	dirty bool
}

// Has reports whether the frontmatter contains the given property.
func (d *Document) Has(property string) bool {
	_, ok := d.Frontmatter[property]
	return ok
}

// Get returns the value stored under property, or nil when absent.
func (d *Document) Get(property string) interface{} {
	return d.Frontmatter[property]
}

// Set stores value under property, creating the frontmatter mapping if the
// document had none.
func (d *Document) Set(property string, value interface{}) {
	if d.Frontmatter == nil {
		d.Frontmatter = make(map[string]interface{})
	}
	d.Frontmatter[property] = value
	d.dirty = true
}

// Remove deletes property from the frontmatter.
func (d *Document) Remove(property string) {
	delete(d.Frontmatter, property)
	d.dirty = true
}

// Dirty reports whether the document has unpersisted metadata mutations.
func (d *Document) Dirty() bool {
	return d.dirty
}

// Collection is the set of documents under one vault root, loaded into memory.
type Collection struct {
	store storage.Provider
	idx   index.TagIndex
	docs  map[string]*Document
}

// Load reads and parses every Markdown file under the store's root.
func Load(store storage.Provider, idx index.TagIndex) (*Collection, error) {
	metas, err := store.List()
	if err != nil {
		return nil, err
	}

	docs := make(map[string]*Document, len(metas))
	for _, m := range metas {
		data, err := store.Read(m.Path)
		if err != nil {
			return nil, err
		}
		res, err := parser.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("vault: parse %s: %w", m.Path, err)
		}
		docs[m.Path] = &Document{
			Document: models.Document{
				Path:        m.Path,
				Content:     data,
				Body:        res.Body,
				Frontmatter: res.Frontmatter,
				Title:       res.Title,
				Tags:        res.Tags,
				Checksum:    m.Checksum,
				UpdatedAt:   m.UpdatedAt,
			},
		}
	}

	return &Collection{store: store, idx: idx, docs: docs}, nil
}

// Select returns the documents whose tag set contains tag, in the index's
// order (path ascending). Membership is evaluated against the state the index
// captured before the run, not against in-flight mutations.
func (c *Collection) Select(tag string) ([]*Document, error) {
	paths, err := c.idx.PathsWithTag(tag)
	if err != nil {
		return nil, err
	}
	var out []*Document
	for _, p := range paths {
		if d, ok := c.docs[p]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Get returns the loaded document at path, or nil.
func (c *Collection) Get(path string) *Document {
	return c.docs[path]
}

// Len returns the number of loaded documents.
func (c *Collection) Len() int {
	return len(c.docs)
}

// Root returns the absolute vault root path.
func (c *Collection) Root() string {
	return c.store.Root()
}

// Name returns the base name of the vault root directory.
func (c *Collection) Name() string {
	return filepath.Base(c.store.Root())
}

// UpdateContent re-renders the raw content of every dirty document from its
// frontmatter and body.
func (c *Collection) UpdateContent() error {
	for _, d := range c.docs {
		if !d.dirty {
			continue
		}
		data, err := parser.Render(d.Frontmatter, d.Body)
		if err != nil {
			return fmt.Errorf("vault: render %s: %w", d.Path, err)
		}
		d.Content = data
	}
	return nil
}

// Persist writes every dirty document's content back through the storage
// provider. Documents without mutations are left untouched on disk.
func (c *Collection) Persist() error {
	for _, d := range c.docs {
		if !d.dirty {
			continue
		}
		if err := c.store.Write(d.Path, d.Content); err != nil {
			return err
		}
		d.dirty = false
	}
	return nil
}
