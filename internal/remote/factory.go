package remote

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-crawler/internal/crawler"
)

// Supported host types.
const (
	TypeGitHub      = "github"
	TypeBitbucket   = "bitbucket"
	TypeGitLab      = "gitlab"
	TypeAzureDevOps = "azuredevops"
)

// Types lists every supported host type.
func Types() []string {
	return []string{TypeGitHub, TypeBitbucket, TypeGitLab, TypeAzureDevOps}
}

// New selects the adapter for cfg.Type.
func New(cfg Config, logger *zap.Logger) (crawler.RemoteHost, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeGitHub:
		return NewGitHub(cfg, logger), nil
	case TypeBitbucket:
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("bitbucket host requires a url")
		}
		return NewBitbucket(cfg, logger), nil
	case TypeGitLab:
		return NewGitLab(cfg, logger), nil
	case TypeAzureDevOps:
		return NewAzureDevOps(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported host type %q", cfg.Type)
	}
}
