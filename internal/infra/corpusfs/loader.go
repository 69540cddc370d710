// Package corpusfs loads reference documents from a directory of JSON and
// YAML files.
package corpusfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
)

var (
	// ErrUnsupportedFormat is returned by Decode for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported corpus file format")
	ErrEmpty             = errors.New("no documents")
	ErrNotDocuments      = errors.New("expected a document, a list of documents or a documents object")
)

// Dir implements corpus.Source over a directory tree.
type Dir struct {
	Root   string
	Logger *slog.Logger
}

func NewDir(root string, logger *slog.Logger) *Dir {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dir{Root: root, Logger: logger}
}

// Load reads every .json, .yaml and .yml file below Root in lexical path
// order. Files that fail to parse are skipped with a warning; a badly typed
// document inside a file only costs that document, at ingestion.
func (d *Dir) Load(ctx context.Context) ([]corpus.RawDocument, error) {
	var paths []string
	err := filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if path != d.Root && strings.HasPrefix(e.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if supported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus dir %s: %w", d.Root, err)
	}
	slices.Sort(paths)

	var docs []corpus.RawDocument
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			d.Logger.Warn("skipping unreadable corpus file", "path", p, "error", err)
			continue
		}
		batch, err := Decode(p, data)
		if err != nil {
			d.Logger.Warn("skipping malformed corpus file", "path", p, "error", err)
			continue
		}
		docs = append(docs, batch...)
	}
	d.Logger.Info("corpus files loaded", "root", d.Root, "files", len(paths), "documents", len(docs))
	return docs, nil
}

// Decode parses one corpus file by extension. A file holds either a single
// document, a list of documents or an object with a "documents" list.
func Decode(name string, data []byte) ([]corpus.RawDocument, error) {
	var (
		docs []corpus.RawDocument
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		docs, err = DecodeJSON(data)
	case ".yaml", ".yml":
		docs, err = DecodeYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return docs, nil
}

// DecodeJSON splits a JSON batch into documents. Only a broken envelope is
// an error; an element with badly typed fields comes back as
// corpus.Undecodable and is rejected on its own at ingestion.
func DecodeJSON(data []byte) ([]corpus.RawDocument, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmpty
	}

	var elems []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		list, ok := fields["documents"]
		if !ok || !bytes.HasPrefix(bytes.TrimSpace(list), []byte("[")) {
			elems = []json.RawMessage{trimmed}
			break
		}
		if err := json.Unmarshal(list, &elems); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotDocuments
	}

	docs := make([]corpus.RawDocument, 0, len(elems))
	for _, el := range elems {
		var doc corpus.RawDocument
		if err := json.Unmarshal(el, &doc); err != nil {
			var head struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(el, &head)
			doc = corpus.Undecodable(head.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// DecodeYAML is DecodeJSON for YAML input.
func DecodeYAML(data []byte) ([]corpus.RawDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrEmpty
	}

	top := root.Content[0]
	var elems []*yaml.Node
	switch top.Kind {
	case yaml.SequenceNode:
		elems = top.Content
	case yaml.MappingNode:
		elems = []*yaml.Node{top}
		for i := 0; i+1 < len(top.Content); i += 2 {
			if top.Content[i].Value == "documents" && top.Content[i+1].Kind == yaml.SequenceNode {
				elems = top.Content[i+1].Content
				break
			}
		}
	default:
		return nil, ErrNotDocuments
	}

	docs := make([]corpus.RawDocument, 0, len(elems))
	for _, el := range elems {
		var doc corpus.RawDocument
		if err := el.Decode(&doc); err != nil {
			var head struct {
				ID string `yaml:"id"`
			}
			_ = el.Decode(&head)
			doc = corpus.Undecodable(head.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
