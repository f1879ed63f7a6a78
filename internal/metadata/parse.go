package metadata

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawEntry mirrors a configuration entry on disk.
type rawEntry struct {
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// Load reads and parses the metadata document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("read file: %w", err)}
	}

	doc, err := Parse(data)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// Parse decodes a metadata document from YAML text.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("parse YAML: %w", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &ParseError{Err: errors.New("document is empty")}
	}

	body := root.Content[0]
	if body.Kind != yaml.MappingNode {
		return nil, &ParseError{Err: fmt.Errorf("line %d: top level must be a mapping", body.Line)}
	}

	doc := &Document{Fields: make(map[string]any)}
	for i := 0; i+1 < len(body.Content); i += 2 {
		keyNode, valueNode := body.Content[i], body.Content[i+1]
		name := keyNode.Value
		doc.keys = append(doc.keys, name)

		if !IsSection(name) {
			var v any
			if err := valueNode.Decode(&v); err != nil {
				return nil, &ParseError{Err: fmt.Errorf("field %s: %w", name, err)}
			}
			doc.Fields[name] = v
			continue
		}

		section, err := parseSection(name, valueNode)
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		doc.Sections = append(doc.Sections, section)
	}

	return doc, nil
}

func parseSection(name string, node *yaml.Node) (*Section, error) {
	section := &Section{Name: name}
	if isNull(node) {
		return section, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("section %s (line %d): must be a mapping of entries", name, node.Line)
	}

	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("section %s: duplicate key %q", name, key)
		}
		seen[key] = struct{}{}

		entry, err := parseEntry(key, node.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
		section.Entries = append(section.Entries, entry)
	}
	return section, nil
}

func parseEntry(key string, node *yaml.Node) (Entry, error) {
	if node.Kind != yaml.MappingNode {
		return Entry{}, fmt.Errorf("entry %s (line %d): must be a mapping with type and value", key, node.Line)
	}

	var raw rawEntry
	if err := node.Decode(&raw); err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", key, err)
	}
	if raw.Type == "" {
		return Entry{}, fmt.Errorf("entry %s (line %d): missing type", key, node.Line)
	}

	tag := Type(raw.Type)
	value, err := decodeValue(tag, &raw.Value)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %s: %w", key, err)
	}
	return Entry{Key: key, Tag: tag, Value: value}, nil
}

func decodeValue(tag Type, node *yaml.Node) (Value, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}

	switch tag {
	case TypeString, typeStringAlias:
		if isNull(node) {
			return String(""), nil
		}
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: %s value must be a scalar", node.Line, tag)
		}
		return String(node.Value), nil
	case TypeArray:
		if isNull(node) {
			return Array(nil), nil
		}
		if node.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: array value must be a sequence", node.Line)
		}
		var items []any
		if err := node.Decode(&items); err != nil {
			return nil, err
		}
		return Array(items), nil
	case TypeObject:
		data, err := decodeAny(node)
		if err != nil {
			return nil, err
		}
		return Object{Data: data}, nil
	default:
		data, err := decodeAny(node)
		if err != nil {
			return nil, err
		}
		return Literal{Data: data}, nil
	}
}

func decodeAny(node *yaml.Node) (any, error) {
	if isNull(node) {
		return nil, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// isNull covers both an explicit null and an absent value key.
func isNull(node *yaml.Node) bool {
	return node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}
