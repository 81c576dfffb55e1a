package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeRecognizer()
	c.normalizeConfidence()
	c.normalizeCatalog()
	c.Pipeline.Version = strings.TrimSpace(c.Pipeline.Version)
	if c.Pipeline.Version == "" {
		c.Pipeline.Version = defaultPipelineVersion
	}
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CatalogFile, err = expandPath(c.Paths.CatalogFile); err != nil {
		return fmt.Errorf("paths.catalog_file: %w", err)
	}
	if c.Paths.AliasFile, err = expandPath(c.Paths.AliasFile); err != nil {
		return fmt.Errorf("paths.alias_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	if strings.TrimSpace(c.Storage.SQLitePath) == "" {
		c.Storage.SQLitePath = filepath.Join(c.Paths.StateDir, defaultSQLiteFile)
	}
	var err error
	if c.Storage.SQLitePath, err = expandPath(c.Storage.SQLitePath); err != nil {
		return fmt.Errorf("storage.sqlite_path: %w", err)
	}
	if c.Storage.RedisURL == "" {
		if value, ok := os.LookupEnv("DECKLENS_REDIS_URL"); ok {
			c.Storage.RedisURL = value
		}
	}
	c.Storage.RedisURL = strings.TrimSpace(c.Storage.RedisURL)
	c.Storage.RedisPrefix = strings.TrimSpace(c.Storage.RedisPrefix)
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = defaultRedisPrefix
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeRecognizer() {
	for _, engine := range []*Engine{&c.Recognizer.Primary, &c.Recognizer.Fallback} {
		engine.Name = strings.TrimSpace(engine.Name)
		engine.Command = strings.TrimSpace(engine.Command)
		if engine.Name == "" {
			engine.Name = engine.Command
		}
	}
}

// normalizeConfidence lower-cases class names and fills classes the file omits.
func (c *Config) normalizeConfidence() {
	bands := make(map[string]Band, len(c.Confidence.Bands))
	for name, band := range c.Confidence.Bands {
		bands[strings.ToLower(strings.TrimSpace(name))] = band
	}
	for name, band := range DefaultBands() {
		if _, ok := bands[name]; !ok {
			bands[name] = band
		}
	}
	c.Confidence.Bands = bands
}

func (c *Config) normalizeCatalog() {
	if c.Catalog.BaseURL == "" {
		if value, ok := os.LookupEnv("DECKLENS_CATALOG_URL"); ok {
			c.Catalog.BaseURL = value
		}
	}
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultCatalogBaseURL
	}
	c.Catalog.UserAgent = strings.TrimSpace(c.Catalog.UserAgent)
	if c.Catalog.UserAgent == "" {
		c.Catalog.UserAgent = defaultCatalogUserAgent
	}
}
