package parser

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodNpmDependency selects the package.json dependency version parser.
const MethodNpmDependency = "findNpmDependencyVersion"

var npmSections = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

// NpmDependency reports the version range declared for a package.json dependency.
type NpmDependency struct {
	logger *zap.Logger
	paths  *JSONPath
}

// NewNpmDependency builds the npm dependency parser.
func NewNpmDependency(logger *zap.Logger) *NpmDependency {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NpmDependency{logger: logger, paths: NewJSONPath(logger)}
}

// Method implements crawler.IndicatorParser.
func (p *NpmDependency) Method() string { return MethodNpmDependency }

// Parse looks the dependency up by name in every dependency section. Definitions
// that only carry a jsonPath are evaluated as a JSON path instead.
func (p *NpmDependency) Parse(content, path string, def crawler.IndicatorDefinition) map[string]string {
	name, ok := def.Param("dependencyName")
	if !ok || name == "" {
		return p.paths.Parse(content, path, def)
	}
	doc, err := decodeJSON(content)
	if err != nil {
		p.logger.Warn("problem while parsing package.json", zap.String("indicator", def.Name), zap.Error(err))
		return single(def.Name, ParseIssuePrefix+err.Error())
	}
	root, isObject := doc.(map[string]any)
	if !isObject {
		return single(def.Name, NotFound)
	}
	for _, section := range npmSections {
		deps, isMap := root[section].(map[string]any)
		if !isMap {
			continue
		}
		if version, isString := deps[name].(string); isString {
			return single(def.Name, version)
		}
	}
	return single(def.Name, NotFound)
}
