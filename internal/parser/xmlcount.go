package parser

import (
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodXMLCount selects the XPath match counting parser.
const MethodXMLCount = "countMatchingXmlElements"

// XMLCount counts nodes matching an XPath expression.
type XMLCount struct {
	logger *zap.Logger
}

// NewXMLCount builds the XPath counting parser.
func NewXMLCount(logger *zap.Logger) *XMLCount {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XMLCount{logger: logger}
}

// Method implements crawler.IndicatorParser.
func (p *XMLCount) Method() string { return MethodXMLCount }

// Parse implements crawler.IndicatorParser.
func (p *XMLCount) Parse(content, _ string, def crawler.IndicatorDefinition) map[string]string {
	expr, _ := def.Param("xpathToMatch")
	doc, err := xmlquery.Parse(strings.NewReader(content))
	if err != nil {
		p.logger.Warn("problem while parsing xml", zap.String("indicator", def.Name), zap.Error(err))
		return single(def.Name, ParseIssuePrefix+err.Error())
	}
	nodes, err := xmlquery.QueryAll(doc, expr)
	if err != nil || strings.TrimSpace(expr) == "" {
		p.logger.Warn("invalid xpath", zap.String("indicator", def.Name), zap.String("xpath", expr), zap.Error(err))
		return single(def.Name, ConfigIssue)
	}
	return single(def.Name, strconv.Itoa(len(nodes)))
}
