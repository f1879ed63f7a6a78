package metadata

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Dump writes doc as YAML, keeping top-level and entry order.
func Dump(w io.Writer, doc *Document) error {
	root, err := toNode(doc)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode YAML: %w", err)
	}
	return enc.Close()
}

// Save writes doc as YAML to path.
func Save(path string, doc *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Dump(f, doc); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func toNode(doc *Document) (*yaml.Node, error) {
	body := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range doc.topLevelKeys() {
		var value *yaml.Node
		var err error
		if section, ok := doc.Section(key); ok {
			value, err = sectionNode(section)
		} else {
			value, err = encodeNode(doc.Fields[key])
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		body.Content = append(body.Content, scalarNode(key), value)
	}
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{body}}, nil
}

func sectionNode(s *Section) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range s.Entries {
		value, err := encodeNode(e.Value.Plain())
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.Key, err)
		}
		entry := &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				scalarNode("type"), scalarNode(string(e.Tag)),
				scalarNode("value"), value,
			},
		}
		node.Content = append(node.Content, scalarNode(e.Key), entry)
	}
	return node, nil
}

func encodeNode(v any) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return nil, err
	}
	return &node, nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
