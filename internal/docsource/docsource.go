// Package docsource loads documents for extraction from local files,
// directories and URLs.
package docsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/annotate-cli/internal/model"
)

// Options control how rows and files become documents.
type Options struct {
	// Taxonomy is set on documents that do not name one.
	Taxonomy string
	// Limit caps the number of documents returned. Zero means no limit.
	Limit int
	// IDColumn and TextColumn name the table columns. Defaults: id, text.
	IDColumn   string
	TextColumn string
	// Sheet selects an xlsx sheet by name; the first sheet otherwise.
	Sheet string
}

func (o Options) columns() (id, text string) {
	id, text = o.IDColumn, o.TextColumn
	if id == "" {
		id = "id"
	}
	if text == "" {
		text = "text"
	}
	return strings.ToLower(id), strings.ToLower(text)
}

// textExtensions are read whole as one document each.
var textExtensions = map[string]bool{".txt": true, ".md": true, ".text": true}

// Load reads documents from path: a directory of text files, a .jsonl/.json,
// .csv or .xlsx table, a single text file, or an http(s) URL.
func Load(ctx context.Context, path string, opts Options) ([]model.Document, error) {
	if IsURL(path) {
		doc, err := NewHTTPSource(HTTPOptions{}).Fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		return finish([]model.Document{doc}, opts), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "docsource: stat %s", path)
	}

	var docs []model.Document
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case info.IsDir():
		docs, err = LoadDir(ctx, path)
	case ext == ".jsonl" || ext == ".json" || ext == ".ndjson":
		docs, err = loadJSONFile(ctx, path)
	case ext == ".csv":
		docs, err = loadCSVFile(ctx, path, ',', opts)
	case ext == ".tsv":
		docs, err = loadCSVFile(ctx, path, '\t', opts)
	case ext == ".xlsx":
		docs, err = LoadXLSX(path, opts)
	default:
		var doc model.Document
		doc, err = LoadFile(path)
		docs = []model.Document{doc}
	}
	if err != nil {
		return nil, err
	}
	return finish(docs, opts), nil
}

// LoadFile reads one text file. The document id is the file name without
// its extension.
func LoadFile(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, eris.Wrapf(err, "docsource: read %s", path)
	}
	return model.Document{
		ID:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Text:   normalizeText(string(data)),
		Source: path,
	}, nil
}

// LoadDir reads every text file directly under dir, in name order.
func LoadDir(ctx context.Context, dir string) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "docsource: read dir %s", dir)
	}
	var docs []model.Document
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "docsource: context cancelled")
		}
		if e.IsDir() || !textExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		doc, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// finish applies the default taxonomy, drops empty documents and applies
// the limit.
func finish(docs []model.Document, opts Options) []model.Document {
	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		if d.Taxonomy == "" {
			d.Taxonomy = opts.Taxonomy
		}
		out = append(out, d)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// normalizeText strips a UTF-8 byte order mark and converts CRLF line
// endings. Offsets are computed on the normalized text.
func normalizeText(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// IsURL reports whether path is an http(s) URL.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
