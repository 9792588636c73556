package parser

import "github.com/JakeFAU/github-crawler/internal/crawler"

// MethodFilePath selects the parser that reports where the file was read from.
const MethodFilePath = "findFilePath"

// FilePath ignores the content and returns the fetched path.
type FilePath struct{}

// NewFilePath builds the file path parser.
func NewFilePath() FilePath { return FilePath{} }

// Method implements crawler.IndicatorParser.
func (FilePath) Method() string { return MethodFilePath }

// Parse implements crawler.IndicatorParser.
func (FilePath) Parse(_, path string, def crawler.IndicatorDefinition) map[string]string {
	return single(def.Name, path)
}
