// Package parser holds the indicator parsers and the registry that selects
// them by method name.
package parser

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Values written in place of an indicator when extraction cannot complete normally.
const (
	NotFound               = "not found"
	ConfigIssue            = "issue in config, check logs"
	ArtifactWithoutVersion = "artifact found, but not the version"
	ParseIssuePrefix       = "issue while parsing "
)

// Registry maps parser method names to implementations.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]crawler.IndicatorParser
}

// NewRegistry builds an empty registry, optionally pre-populated.
func NewRegistry(parsers ...crawler.IndicatorParser) *Registry {
	r := &Registry{parsers: make(map[string]crawler.IndicatorParser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.Method()] = p
	}
	return r
}

// Default returns a registry holding every built-in parser.
func Default(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("parser")
	return NewRegistry(
		NewRegexp(logger),
		NewPomXML(logger),
		NewYAMLProperty(logger),
		NewXMLCount(logger),
		NewJSONPath(logger),
		NewNpmDependency(logger),
		NewFilePath(),
	)
}

// Register adds a parser. A second parser for the same method is rejected.
func (r *Registry) Register(p crawler.IndicatorParser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.parsers[p.Method()]; exists {
		return fmt.Errorf("parser %q already registered", p.Method())
	}
	r.parsers[p.Method()] = p
	return nil
}

// Lookup returns the parser for method.
func (r *Registry) Lookup(method string) (crawler.IndicatorParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[method]
	return p, ok
}

// Methods lists the registered method names, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.parsers))
	for m := range r.parsers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Require returns an error naming the first method that is not registered.
func (r *Registry) Require(methods ...string) error {
	known := r.Methods()
	for _, m := range methods {
		if !slices.Contains(known, m) {
			return fmt.Errorf("unknown parser method %q", m)
		}
	}
	return nil
}

func single(name, value string) map[string]string {
	return map[string]string{name: value}
}
