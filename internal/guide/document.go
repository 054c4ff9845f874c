package guide

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Document is a parsed rich-text leaf body: a tree of objects with a "type",
// optional "attrs" and nested "content" arrays. Unknown fields are kept so a
// rewritten document round-trips everything but the image sources.
type Document struct {
	root map[string]any
}

// ParseDocument parses a leaf content string. The top level must be an object.
func ParseDocument(s string) (*Document, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, ParseError("parsing content document", err)
	}
	if dec.More() {
		return nil, ParseError("parsing content document", fmt.Errorf("trailing data after document"))
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, ParseError("parsing content document", fmt.Errorf("document is %T, not an object", v))
	}
	return &Document{root: root}, nil
}

// Type returns the top-level node type, "doc" for well-formed bodies.
func (d *Document) Type() string {
	t, _ := d.root["type"].(string)
	return t
}

// ImageSources returns the distinct src of every image node, in document order.
func (d *Document) ImageSources() []string {
	var out []string
	seen := make(map[string]bool)
	walkImages(d.root, func(attrs map[string]any) {
		src, ok := attrs["src"].(string)
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		out = append(out, src)
	})
	return out
}

// RewriteImages replaces image sources found in refs and returns how many
// image nodes changed.
func (d *Document) RewriteImages(refs map[string]string) int {
	n := 0
	walkImages(d.root, func(attrs map[string]any) {
		src, ok := attrs["src"].(string)
		if !ok {
			return
		}
		if ref, ok := refs[src]; ok && ref != src {
			attrs["src"] = ref
			n++
		}
	})
	return n
}

// String encodes the document back to JSON.
func (d *Document) String() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.root); err != nil {
		return "", fmt.Errorf("encoding content document: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// walkImages visits the attrs of every image node at any depth.
func walkImages(node map[string]any, visit func(attrs map[string]any)) {
	if t, _ := node["type"].(string); t == "image" {
		if attrs, ok := node["attrs"].(map[string]any); ok {
			visit(attrs)
		}
	}

	children, ok := node["content"].([]any)
	if !ok {
		return
	}
	for _, c := range children {
		if child, ok := c.(map[string]any); ok {
			walkImages(child, visit)
		}
	}
}
