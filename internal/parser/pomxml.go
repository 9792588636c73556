package parser

import (
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// MethodXMLDependencyVersion selects the Maven dependency version parser.
const MethodXMLDependencyVersion = "findDependencyVersionInXml"

// PomXML finds the declared version of an artifact in a Maven POM.
type PomXML struct {
	logger *zap.Logger
}

// NewPomXML builds the POM dependency parser.
func NewPomXML(logger *zap.Logger) *PomXML {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PomXML{logger: logger}
}

// Method implements crawler.IndicatorParser.
func (p *PomXML) Method() string { return MethodXMLDependencyVersion }

// Parse looks at every element (dependency, parent, plugin, ...) whose artifactId
// child equals the configured one. The first declaration with a resolvable version wins.
func (p *PomXML) Parse(content, _ string, def crawler.IndicatorDefinition) map[string]string {
	artifactID, _ := def.Param("artifactId")
	if strings.TrimSpace(artifactID) == "" {
		p.logger.Warn("artifactId param missing", zap.String("indicator", def.Name))
		return single(def.Name, ConfigIssue)
	}
	doc, err := xmlquery.Parse(strings.NewReader(content))
	if err != nil {
		p.logger.Warn("problem while parsing xml", zap.String("indicator", def.Name), zap.Error(err))
		return single(def.Name, ParseIssuePrefix+err.Error())
	}
	project := firstElement(doc, "project")

	found := false
	var version string
	walkElements(doc, func(n *xmlquery.Node) bool {
		id := childElement(n, "artifactId")
		if id == nil || strings.TrimSpace(id.InnerText()) != artifactID {
			return true
		}
		found = true
		v := childElement(n, "version")
		if v == nil {
			return true
		}
		if resolved, ok := resolveVersion(project, strings.TrimSpace(v.InnerText())); ok {
			version = resolved
			return false
		}
		return true
	})

	switch {
	case version != "":
		return single(def.Name, version)
	case found:
		return single(def.Name, ArtifactWithoutVersion)
	default:
		return single(def.Name, NotFound)
	}
}

// resolveVersion follows one level of ${property} indirection.
func resolveVersion(project *xmlquery.Node, raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	if !strings.HasPrefix(raw, "${") || !strings.HasSuffix(raw, "}") {
		return raw, true
	}
	if project == nil {
		return "", false
	}
	name := raw[2 : len(raw)-1]
	var value string
	switch name {
	case "project.version", "version":
		if n := childElement(project, "version"); n != nil {
			value = n.InnerText()
		}
	case "project.parent.version", "parent.version":
		if parent := childElement(project, "parent"); parent != nil {
			if n := childElement(parent, "version"); n != nil {
				value = n.InnerText()
			}
		}
	default:
		if props := childElement(project, "properties"); props != nil {
			if n := childElement(props, name); n != nil {
				value = n.InnerText()
			}
		}
	}
	value = strings.TrimSpace(value)
	if value == "" || strings.Contains(value, "${") {
		return "", false
	}
	return value, true
}

// walkElements visits element nodes depth-first in document order until visit returns false.
func walkElements(n *xmlquery.Node, visit func(*xmlquery.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if !visit(c) {
			return false
		}
		if !walkElements(c, visit) {
			return false
		}
	}
	return true
}

func childElement(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

func firstElement(doc *xmlquery.Node, name string) *xmlquery.Node {
	var match *xmlquery.Node
	walkElements(doc, func(n *xmlquery.Node) bool {
		if n.Data == name {
			match = n
			return false
		}
		return true
	})
	return match
}
