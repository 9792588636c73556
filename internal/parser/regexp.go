package parser

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodRegexpCapture selects the first-capture regex parser.
const MethodRegexpCapture = "findFirstValueWithRegexpCapture"

const regexpCacheSize = 256

type compiled struct {
	re  *regexp.Regexp
	err error
}

// Regexp returns the first capturing group of the configured pattern.
type Regexp struct {
	logger *zap.Logger
	cache  *lru.Cache[string, compiled]
}

// NewRegexp builds the regex parser. Compiled patterns are cached across calls.
func NewRegexp(logger *zap.Logger) *Regexp {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, compiled](regexpCacheSize)
	if err != nil {
		panic(fmt.Sprintf("regexp cache: %v", err))
	}
	return &Regexp{logger: logger, cache: cache}
}

// Method implements crawler.IndicatorParser.
func (p *Regexp) Method() string { return MethodRegexpCapture }

// Parse applies the pattern to the whole content. No match omits the indicator.
func (p *Regexp) Parse(content, _ string, def crawler.IndicatorDefinition) map[string]string {
	pattern, _ := def.Param("pattern")
	c := p.compile(pattern)
	if c.err != nil {
		p.logger.Warn("invalid indicator pattern",
			zap.String("indicator", def.Name), zap.String("pattern", pattern), zap.Error(c.err))
		return single(def.Name, ConfigIssue)
	}
	if c.re.NumSubexp() < 1 {
		p.logger.Warn("indicator pattern needs a capturing group",
			zap.String("indicator", def.Name), zap.String("pattern", pattern))
		return single(def.Name, ConfigIssue)
	}
	match := c.re.FindStringSubmatch(content)
	if match == nil {
		return map[string]string{}
	}
	return single(def.Name, match[1])
}

func (p *Regexp) compile(pattern string) compiled {
	if c, ok := p.cache.Get(pattern); ok {
		return c
	}
	if pattern == "" {
		return compiled{err: fmt.Errorf("empty pattern")}
	}
	re, err := regexp.Compile(pattern)
	c := compiled{re: re, err: err}
	p.cache.Add(pattern, c)
	return c
}
