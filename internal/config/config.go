// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/github-crawler/internal/crawler"
	"github.com/JakeFAU/github-crawler/internal/exclusion"
	"github.com/JakeFAU/github-crawler/internal/remote"
)

// EnvPrefix prefixes every environment override, e.g. GHCRAWLER_HOST_TOKEN.
const EnvPrefix = "GHCRAWLER"

// DotenvVar names the variable holding the optional .env path.
const DotenvVar = EnvPrefix + "_DOTENV"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging             LoggingConfig                `mapstructure:"logging"`
	Host                HostConfig                   `mapstructure:"host"`
	Crawler             CrawlerConfig                `mapstructure:"crawler"`
	FilesToParse        []FileConfig                 `mapstructure:"files_to_parse"`
	MiscRepositoryTasks []crawler.RepoTaskDefinition `mapstructure:"misc_repository_tasks"`
	Searches            []crawler.SearchDefinition   `mapstructure:"searches"`
	Outputs             OutputsConfig                `mapstructure:"outputs"`
	Server              ServerConfig                 `mapstructure:"server"`
	Schedule            ScheduleConfig               `mapstructure:"schedule"`
	Metrics             MetricsConfig                `mapstructure:"metrics"`
	Tracing             TracingConfig                `mapstructure:"tracing"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HostConfig selects and tunes the remote repository host.
type HostConfig struct {
	Type              string  `mapstructure:"type"`
	URL               string  `mapstructure:"url"`
	SearchURL         string  `mapstructure:"search_url"`
	Token             string  `mapstructure:"token"`
	Organization      string  `mapstructure:"organization"`
	IsUser            bool    `mapstructure:"is_user"`
	PerPage           int     `mapstructure:"per_page"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// Timeout is the per-request timeout.
func (h HostConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// CrawlerConfig governs what a crawl visits and how wide it fans out.
type CrawlerConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	CrawlAllBranches      bool     `mapstructure:"crawl_all_branches"`
	PublishExcluded       bool     `mapstructure:"publish_excluded"`
	RunID                 string   `mapstructure:"run_id"`
	Groups                []string `mapstructure:"groups"`
	RepositoriesToExclude []string `mapstructure:"repositories_to_exclude"`
	RepositoriesToInclude []string `mapstructure:"repositories_to_include"`
	OverlayPath           string   `mapstructure:"overlay_path"`
}

// FileConfig is one file to parse and the indicators extracted from it.
type FileConfig struct {
	Name       string                        `mapstructure:"name"`
	RedirectTo string                        `mapstructure:"redirect_to"`
	Indicators []crawler.IndicatorDefinition `mapstructure:"indicators"`
}

// OutputsConfig enables sinks. Enabled sinks run in declaration order.
type OutputsConfig struct {
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	CSV      CSVOutputConfig      `mapstructure:"csv"`
	HTTP     HTTPOutputConfig     `mapstructure:"http"`
	PubSub   PubSubOutputConfig   `mapstructure:"pubsub"`
	GCS      GCSOutputConfig      `mapstructure:"gcs"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	SQLite   SQLiteOutputConfig   `mapstructure:"sqlite"`
	NATS     NATSOutputConfig     `mapstructure:"nats"`
	S3       S3OutputConfig       `mapstructure:"s3"`

	RecentRepositories RecentRepositoriesOutputConfig `mapstructure:"recent_repositories"`
	SearchPaths        SearchPathsOutputConfig        `mapstructure:"search_paths"`
	CIdroidCSV         CIdroidOutputConfig            `mapstructure:"cidroid_csv"`
	CIdroidJSON        CIdroidOutputConfig            `mapstructure:"cidroid_json"`
}

// FileOutputConfig writes JSON lines into Dir.
type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	Prefix  string `mapstructure:"prefix"`
}

// ConsoleOutputConfig logs every record.
type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CSVOutputConfig writes one CSV file at the end of a run.
type CSVOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HTTPOutputConfig posts records to an endpoint.
type HTTPOutputConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	URL            string            `mapstructure:"url"`
	Headers        map[string]string `mapstructure:"headers"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// PubSubOutputConfig holds the Pub/Sub destination.
type PubSubOutputConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// GCSOutputConfig holds the bucket and object prefix.
type GCSOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PostgresOutputConfig controls access to the relational database.
type PostgresOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteOutputConfig selects the database file.
type SQLiteOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NATSOutputConfig selects the server and subject.
type NATSOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// S3OutputConfig configures an S3-compatible object store.
type S3OutputConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// RecentRepositoriesOutputConfig writes creation and update dates per repository.
type RecentRepositoriesOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SearchPathsOutputConfig writes one line per path found by Search, the name
// of a path search task or repository search.
type SearchPathsOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Search  string `mapstructure:"search"`
}

// CIdroidOutputConfig lists Indicators per repository branch for CI-droid.
type CIdroidOutputConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Path       string   `mapstructure:"path"`
	Indicators []string `mapstructure:"indicators"`
	WithTags   bool     `mapstructure:"with_tags"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// ScheduleConfig triggers crawls from a cron expression while serving.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := loadDotenv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotenv() error {
	path := os.Getenv(DotenvVar)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("host.type", remote.TypeGitHub)
	// Adapters fall back to their public API roots when url is empty.
	v.SetDefault("host.url", "")
	v.SetDefault("host.per_page", 100)
	v.SetDefault("host.timeout_seconds", 30)
	v.SetDefault("host.max_retries", 3)
	v.SetDefault("host.requests_per_second", 10)
	v.SetDefault("host.burst", 5)
	v.SetDefault("host.user_agent", "github-crawler/0.1")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.overlay_path", ".githubCrawler")
	v.SetDefault("outputs.file.dir", "output")
	v.SetDefault("outputs.file.prefix", "crawl")
	v.SetDefault("outputs.http.timeout_seconds", 30)
	v.SetDefault("outputs.postgres.table", "crawl_records")
	v.SetDefault("outputs.s3.region", "us-east-1")
	v.SetDefault("outputs.recent_repositories.path", "output/RecentRepositories.csv")
	v.SetDefault("outputs.search_paths.path", "output/SearchPatternInCode.csv")
	v.SetDefault("outputs.cidroid_csv.path", "output/CIdroidReadyContent.csv")
	v.SetDefault("outputs.cidroid_json.path", "output/CIdroidReadyContent.json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.service_name", "github-crawler")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Keys without a useful default are registered so env overrides reach Unmarshal.
	for _, key := range []string{
		"host.search_url", "host.token", "host.organization", "crawler.run_id",
		"server.api_key", "outputs.postgres.dsn", "outputs.s3.access_key",
		"outputs.s3.secret_key", "outputs.pubsub.project_id",
	} {
		v.SetDefault(key, "")
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !knownHostType(c.Host.Type) {
		return fmt.Errorf("host.type must be one of %s, got %q", strings.Join(remote.Types(), ", "), c.Host.Type)
	}
	if strings.TrimSpace(c.Host.Organization) == "" {
		return fmt.Errorf("host.organization is required")
	}
	if c.Host.PerPage < 1 || c.Host.PerPage > 1000 {
		return fmt.Errorf("host.per_page must be between 1 and 1000")
	}
	if c.Host.TimeoutSeconds <= 0 {
		return fmt.Errorf("host.timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if _, err := exclusion.New(c.Crawler.RepositoriesToExclude, c.Crawler.RepositoriesToInclude); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if err := c.validateFiles(); err != nil {
		return err
	}
	if err := c.Outputs.Validate(); err != nil {
		return err
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}
	return nil
}

func knownHostType(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, known := range remote.Types() {
		if t == known {
			return true
		}
	}
	return false
}

func (c Config) validateFiles() error {
	for i, f := range c.FilesToParse {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("files_to_parse[%d].name is required", i)
		}
		seen := make(map[string]struct{}, len(f.Indicators))
		for _, ind := range f.Indicators {
			if ind.Name == "" || ind.Method == "" {
				return fmt.Errorf("files_to_parse[%s]: every indicator needs a name and a method", f.Name)
			}
			if _, dup := seen[ind.Name]; dup {
				return fmt.Errorf("files_to_parse[%s]: duplicate indicator %q", f.Name, ind.Name)
			}
			seen[ind.Name] = struct{}{}
		}
	}
	for i, t := range c.MiscRepositoryTasks {
		if t.Name == "" || t.Type == "" {
			return fmt.Errorf("misc_repository_tasks[%d] needs a name and a type", i)
		}
	}
	return nil
}

// Validate checks the required fields of every enabled sink.
func (o OutputsConfig) Validate() error {
	var errs []error
	require := func(enabled bool, sink string, fields map[string]string) {
		if !enabled {
			return
		}
		for field, value := range fields {
			if strings.TrimSpace(value) == "" {
				errs = append(errs, fmt.Errorf("outputs.%s.%s is required", sink, field))
			}
		}
	}
	require(o.File.Enabled, "file", map[string]string{"dir": o.File.Dir})
	require(o.CSV.Enabled, "csv", map[string]string{"path": o.CSV.Path})
	require(o.HTTP.Enabled, "http", map[string]string{"url": o.HTTP.URL})
	require(o.PubSub.Enabled, "pubsub", map[string]string{"project_id": o.PubSub.ProjectID, "topic": o.PubSub.Topic})
	require(o.GCS.Enabled, "gcs", map[string]string{"bucket": o.GCS.Bucket})
	require(o.Postgres.Enabled, "postgres", map[string]string{"dsn": o.Postgres.DSN})
	require(o.SQLite.Enabled, "sqlite", map[string]string{"path": o.SQLite.Path})
	require(o.NATS.Enabled, "nats", map[string]string{"url": o.NATS.URL, "subject": o.NATS.Subject})
	require(o.S3.Enabled, "s3", map[string]string{
		"endpoint":   o.S3.Endpoint,
		"bucket":     o.S3.Bucket,
		"access_key": o.S3.AccessKey,
		"secret_key": o.S3.SecretKey,
	})
	require(o.RecentRepositories.Enabled, "recent_repositories", map[string]string{"path": o.RecentRepositories.Path})
	require(o.SearchPaths.Enabled, "search_paths", map[string]string{"path": o.SearchPaths.Path, "search": o.SearchPaths.Search})
	require(o.CIdroidCSV.Enabled, "cidroid_csv", map[string]string{"path": o.CIdroidCSV.Path})
	require(o.CIdroidJSON.Enabled, "cidroid_json", map[string]string{"path": o.CIdroidJSON.Path})
	if o.CIdroidCSV.Enabled && len(o.CIdroidCSV.Indicators) == 0 {
		errs = append(errs, errors.New("outputs.cidroid_csv.indicators needs at least one indicator"))
	}
	if o.CIdroidJSON.Enabled && len(o.CIdroidJSON.Indicators) == 0 {
		errs = append(errs, errors.New("outputs.cidroid_json.indicators needs at least one indicator"))
	}
	return errors.Join(errs...)
}

// Enabled lists the enabled sink names in the order they run.
func (o OutputsConfig) Enabled() []string {
	var out []string
	add := func(enabled bool, name string) {
		if enabled {
			out = append(out, name)
		}
	}
	add(o.File.Enabled, "file")
	add(o.Console.Enabled, "console")
	add(o.CSV.Enabled, "csv")
	add(o.HTTP.Enabled, "http")
	add(o.PubSub.Enabled, "pubsub")
	add(o.GCS.Enabled, "gcs")
	add(o.Postgres.Enabled, "postgres")
	add(o.SQLite.Enabled, "sqlite")
	add(o.NATS.Enabled, "nats")
	add(o.S3.Enabled, "s3")
	add(o.RecentRepositories.Enabled, "recent_repositories")
	add(o.SearchPaths.Enabled, "search_paths")
	add(o.CIdroidCSV.Enabled, "cidroid_csv")
	add(o.CIdroidJSON.Enabled, "cidroid_json")
	return out
}

// CrawlSettings converts the configuration into the snapshot one crawl runs against.
func (c Config) CrawlSettings() crawler.CrawlSettings {
	files := make([]crawler.FileIndicators, 0, len(c.FilesToParse))
	for _, f := range c.FilesToParse {
		files = append(files, crawler.FileIndicators{
			File:       crawler.FileToParse{Name: f.Name, RedirectTo: f.RedirectTo},
			Indicators: append([]crawler.IndicatorDefinition(nil), f.Indicators...),
		})
	}
	return crawler.CrawlSettings{
		Organization:     c.Host.Organization,
		Files:            files,
		Tasks:            append([]crawler.RepoTaskDefinition(nil), c.MiscRepositoryTasks...),
		Searches:         append([]crawler.SearchDefinition(nil), c.Searches...),
		ExcludePatterns:  append([]string(nil), c.Crawler.RepositoriesToExclude...),
		IncludePatterns:  append([]string(nil), c.Crawler.RepositoriesToInclude...),
		PublishExcluded:  c.Crawler.PublishExcluded,
		CrawlAllBranches: c.Crawler.CrawlAllBranches,
		RunID:            c.Crawler.RunID,
		Groups:           append([]string(nil), c.Crawler.Groups...),
		OverlayPath:      c.Crawler.OverlayPath,
	}
}

// Remote converts the host section into the adapter configuration.
func (c Config) Remote() remote.Config {
	return remote.Config{
		Type:              strings.ToLower(strings.TrimSpace(c.Host.Type)),
		URL:               c.Host.URL,
		SearchURL:         c.Host.SearchURL,
		Token:             c.Host.Token,
		IsUser:            c.Host.IsUser,
		PerPage:           c.Host.PerPage,
		Timeout:           c.Host.Timeout(),
		MaxRetries:        c.Host.MaxRetries,
		RequestsPerSecond: c.Host.RequestsPerSecond,
		Burst:             c.Host.Burst,
		UserAgent:         c.Host.UserAgent,
	}
}
