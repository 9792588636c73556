package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodJSONPath selects the JSON path parser.
const MethodJSONPath = "findValueForJsonPath"

// JSONPath returns the value at a simple JSON path: $.a.b, $['a'], $.list[0].
type JSONPath struct {
	logger *zap.Logger
}

// NewJSONPath builds the JSON path parser.
func NewJSONPath(logger *zap.Logger) *JSONPath {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONPath{logger: logger}
}

// Method implements crawler.IndicatorParser.
func (p *JSONPath) Method() string { return MethodJSONPath }

// Parse implements crawler.IndicatorParser.
func (p *JSONPath) Parse(content, _ string, def crawler.IndicatorDefinition) map[string]string {
	path, ok := def.Param("jsonPath")
	if !ok || strings.TrimSpace(path) == "" {
		p.logger.Warn("jsonPath param missing", zap.String("indicator", def.Name))
		return single(def.Name, ConfigIssue)
	}
	steps, err := compileJSONPath(path)
	if err != nil {
		p.logger.Warn("invalid json path", zap.String("indicator", def.Name), zap.Error(err))
		return single(def.Name, ConfigIssue)
	}
	doc, err := decodeJSON(content)
	if err != nil {
		p.logger.Warn("problem while parsing json", zap.String("indicator", def.Name), zap.Error(err))
		return single(def.Name, ParseIssuePrefix+err.Error())
	}
	value, found := evalJSONPath(doc, steps)
	if !found {
		return single(def.Name, NotFound)
	}
	if list, isList := value.([]any); isList {
		if len(list) == 0 {
			return single(def.Name, NotFound)
		}
		value = list[0]
	}
	rendered, ok := renderJSONScalar(value)
	if !ok {
		return single(def.Name, NotFound)
	}
	return single(def.Name, rendered)
}

// jsonStep is either an object key or an array index.
type jsonStep struct {
	key   string
	index int
	isIdx bool
}

func compileJSONPath(path string) ([]jsonStep, error) {
	rest := strings.TrimSpace(path)
	if !strings.HasPrefix(rest, "$") {
		return nil, fmt.Errorf("json path %q must start with $", path)
	}
	rest = rest[1:]
	var steps []jsonStep
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("json path %q has an empty segment", path)
			}
			steps = append(steps, jsonStep{key: rest[:end]})
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("json path %q has an unclosed bracket", path)
			}
			inner := strings.TrimSpace(rest[1:end])
			rest = rest[end+1:]
			if unquoted, ok := trimQuotes(inner); ok {
				steps = append(steps, jsonStep{key: unquoted})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("json path %q has an invalid index %q", path, inner)
			}
			steps = append(steps, jsonStep{index: idx, isIdx: true})
		default:
			return nil, fmt.Errorf("json path %q: unexpected %q", path, rest[0])
		}
	}
	return steps, nil
}

func trimQuotes(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func decodeJSON(content string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func evalJSONPath(doc any, steps []jsonStep) (any, bool) {
	current := doc
	for _, step := range steps {
		if step.isIdx {
			list, ok := current.([]any)
			if !ok || step.index >= len(list) {
				return nil, false
			}
			current = list[step.index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[step.key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func renderJSONScalar(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
