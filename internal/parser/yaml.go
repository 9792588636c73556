package parser

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodYAMLProperty selects the YAML property path parser.
const MethodYAMLProperty = "findPropertyValueInYamlFile"

// YAMLProperty reads a dotted property path from a (possibly multi-document) YAML stream.
type YAMLProperty struct {
	logger *zap.Logger
}

// NewYAMLProperty builds the YAML property parser.
func NewYAMLProperty(logger *zap.Logger) *YAMLProperty {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YAMLProperty{logger: logger}
}

// Method implements crawler.IndicatorParser.
func (p *YAMLProperty) Method() string { return MethodYAMLProperty }

// Parse returns the value found in the first document holding the path.
// A path missing from every document yields no entry.
func (p *YAMLProperty) Parse(content, _ string, def crawler.IndicatorDefinition) map[string]string {
	property, _ := def.Param("propertyName")
	if strings.TrimSpace(property) == "" {
		p.logger.Warn("propertyName param missing", zap.String("indicator", def.Name))
		return single(def.Name, ConfigIssue)
	}

	dec := yaml.NewDecoder(strings.NewReader(content))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return map[string]string{}
		}
		if err != nil {
			p.logger.Warn("problem while parsing yaml file", zap.String("indicator", def.Name), zap.Error(err))
			return single(def.Name, ParseIssuePrefix+err.Error())
		}
		if len(doc.Content) == 0 {
			continue
		}
		if value, ok := lookupProperty(doc.Content[0], strings.Split(property, ".")); ok {
			return single(def.Name, value)
		}
	}
}

// lookupProperty matches keys greedily so that keys containing dots
// ("server.port" written flat) are found as well as nested ones.
func lookupProperty(node *yaml.Node, parts []string) (string, bool) {
	node = deref(node)
	if node.Kind != yaml.MappingNode || len(parts) == 0 {
		return "", false
	}
	// exact key first, then increasingly long prefixes
	if v := mappingValue(node, strings.Join(parts, ".")); v != nil {
		if rendered, ok := renderLeaf(v); ok {
			return rendered, true
		}
	}
	for i := 1; i < len(parts); i++ {
		v := mappingValue(node, strings.Join(parts[:i], "."))
		if v == nil {
			continue
		}
		if rendered, ok := lookupProperty(v, parts[i:]); ok {
			return rendered, true
		}
	}
	return "", false
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func renderLeaf(node *yaml.Node) (string, bool) {
	node = deref(node)
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return "", false
		}
		return node.Value, true
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if rendered, ok := renderLeaf(item); ok {
				items = append(items, rendered)
			}
		}
		return strings.Join(items, ","), true
	default:
		return "", false
	}
}

func deref(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}
