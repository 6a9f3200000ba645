package claims

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// ParseJSON parses a JSON object document into a claim map with the default Normalizer.
func ParseJSON(data []byte) (*Map, error) {
	return defaultNormalizer.ParseJSON(data)
}

// ParseYAML parses a YAML mapping document into a claim map with the default Normalizer.
func ParseYAML(data []byte) (*Map, error) {
	return defaultNormalizer.ParseYAML(data)
}

// ParseDocument picks the parser from the file extension of name: .yaml and .yml
// are YAML, anything else is JSON.
func ParseDocument(name string, data []byte) (*Map, error) {
	return defaultNormalizer.ParseDocument(name, data)
}

// ParseDocument is the Normalizer form of the package-level ParseDocument.
func (n *Normalizer) ParseDocument(name string, data []byte) (*Map, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return n.ParseYAML(data)
	default:
		return n.ParseJSON(data)
	}
}

// ParseJSON keeps the member order of the document.
func (n *Normalizer) ParseJSON(data []byte) (*Map, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	r := gjson.ParseBytes(data)
	if !r.IsObject() {
		return nil, ErrNotAnObject
	}

	w := &walker{maxDepth: n.maxDepth, visiting: make(map[visitKey]struct{})}
	v, err := w.jsonObject("", 0, r)
	if err != nil {
		return nil, err
	}
	return v.(*Map), nil
}

// ParseYAML keeps the key order of the document. Anchors and merge keys are resolved.
func (n *Normalizer) ParseYAML(data []byte) (*Map, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("could not parse YAML claims: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, ErrNotAnObject
		}
		root = root.Content[0]
	}
	root = resolveAlias(root)
	if root.Kind != yaml.MappingNode {
		return nil, ErrNotAnObject
	}

	d := &yamlDecoder{maxDepth: n.maxDepth, budget: yamlNodeBudget(len(data))}
	raw, err := d.value(root, 0)
	if err != nil {
		return nil, err
	}
	v, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return v.(*Map), nil
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

// yamlNodeBudget bounds the nodes a document may expand to through aliases.
func yamlNodeBudget(size int) int {
	return 1000 + 16*size
}

type yamlDecoder struct {
	maxDepth int
	budget   int
	nodes    int
}

// value converts a node into plain values with mappings kept as Object.
func (d *yamlDecoder) value(node *yaml.Node, depth int) (any, error) {
	node = resolveAlias(node)
	if depth > d.maxDepth {
		return nil, fmt.Errorf("%w: nesting exceeds %d levels", ErrCyclicOrUnbounded, d.maxDepth)
	}
	d.nodes++
	if d.nodes > d.budget {
		return nil, fmt.Errorf("%w: document expands to more than %d nodes", ErrCyclicOrUnbounded, d.budget)
	}

	switch node.Kind {
	case yaml.MappingNode:
		return d.mapping(node, depth)

	case yaml.SequenceNode:
		list := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := d.value(item, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil

	case yaml.ScalarNode:
		var v any
		if err := node.Decode(&v); err != nil {
			return nil, fmt.Errorf("could not decode YAML scalar at line %d: %w", node.Line, err)
		}
		return v, nil
	}
	return nil, nil
}

// mapping keeps keys in document order. Keys written in the mapping win over merged
// ones, and earlier merge sources win over later ones.
func (d *yamlDecoder) mapping(node *yaml.Node, depth int) (Object, error) {
	explicit := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i]; !isMergeKey(key) {
			explicit[resolveAlias(key).Value] = true
		}
	}

	obj := make(Object, 0, len(node.Content)/2)
	merged := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if isMergeKey(key) {
			entries, err := d.merge(val, depth)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if explicit[e.Key] || merged[e.Key] {
					continue
				}
				merged[e.Key] = true
				obj = append(obj, e)
			}
			continue
		}
		v, err := d.value(val, depth+1)
		if err != nil {
			return nil, err
		}
		obj = append(obj, Entry{Key: resolveAlias(key).Value, Value: v})
	}
	return obj, nil
}

func isMergeKey(key *yaml.Node) bool {
	return key.Kind == yaml.ScalarNode && key.ShortTag() == "!!merge"
}

func (d *yamlDecoder) merge(val *yaml.Node, depth int) (Object, error) {
	val = resolveAlias(val)
	sources := []*yaml.Node{val}
	if val.Kind == yaml.SequenceNode {
		sources = val.Content
	}

	var out Object
	for _, src := range sources {
		v, err := d.value(src, depth)
		if err != nil {
			return nil, err
		}
		obj, ok := v.(Object)
		if !ok {
			return nil, fmt.Errorf("merge key at line %d does not refer to a mapping", val.Line)
		}
		out = append(out, obj...)
	}
	return out, nil
}
