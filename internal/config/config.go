package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models watchbill.yml. One config per yacht, stored in the database
// and seeded from the default template.
type Config struct {
	Yacht struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"yacht"`

	// Buckets maps a role to its ordered presentation bucket list. The draft
	// generator walks this list to lay out sections; entries whose bucket hint
	// is unknown land in the fallback bucket.
	Buckets struct {
		Roles    map[string][]string `yaml:"roles"`
		Fallback string              `yaml:"fallback"`
	} `yaml:"buckets"`

	Links struct {
		BaseURL        string `yaml:"base_url"`
		SigningSecret  string `yaml:"signing_secret"`
		DocumentTTL    string `yaml:"document_ttl"`
		PDFDocumentTTL string `yaml:"pdf_document_ttl"`
	} `yaml:"links"`

	Export struct {
		ArtifactRoot string `yaml:"artifact_root"`
		// Gateway receives rendered email exports for asynchronous delivery.
		Gateway struct {
			URL            string `yaml:"url"`
			Secret         string `yaml:"secret"`
			TimeoutSeconds int    `yaml:"timeout_seconds"`
		} `yaml:"gateway"`
	} `yaml:"export"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// BucketsForRole returns the ordered bucket list for a role, falling back to
// the captain's list when the role has no entry of its own.
func (c *Config) BucketsForRole(role string) []string {
	if buckets, ok := c.Buckets.Roles[role]; ok && len(buckets) > 0 {
		return buckets
	}
	if buckets, ok := c.Buckets.Roles["captain"]; ok {
		return buckets
	}
	return []string{c.FallbackBucket()}
}

func (c *Config) FallbackBucket() string {
	if c.Buckets.Fallback != "" {
		return c.Buckets.Fallback
	}
	return "General"
}

// DocumentTTL returns the signed-URL lifetime for an export type.
func (c *Config) DocumentTTL(exportType string) time.Duration {
	raw := c.Links.DocumentTTL
	if exportType == "pdf" && c.Links.PDFDocumentTTL != "" {
		raw = c.Links.PDFDocumentTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		if exportType == "pdf" {
			return 7 * 24 * time.Hour
		}
		return 24 * time.Hour
	}
	return d
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Yacht.ID == "" {
		return fmt.Errorf("config.yacht.id is required")
	}
	if len(c.Buckets.Roles) == 0 {
		return fmt.Errorf("config.buckets.roles is required")
	}
	for role, buckets := range c.Buckets.Roles {
		if role == "" {
			return fmt.Errorf("config.buckets.roles contains empty role")
		}
		if len(buckets) == 0 {
			return fmt.Errorf("role %s has empty bucket list", role)
		}
		seen := map[string]bool{}
		for _, b := range buckets {
			if b == "" {
				return fmt.Errorf("role %s has empty bucket name", role)
			}
			if seen[b] {
				return fmt.Errorf("role %s lists bucket %s twice", role, b)
			}
			seen[b] = true
		}
	}
	if c.Links.DocumentTTL != "" {
		if _, err := time.ParseDuration(c.Links.DocumentTTL); err != nil {
			return fmt.Errorf("config.links.document_ttl: %w", err)
		}
	}
	if c.Links.PDFDocumentTTL != "" {
		if _, err := time.ParseDuration(c.Links.PDFDocumentTTL); err != nil {
			return fmt.Errorf("config.links.pdf_document_ttl: %w", err)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "watchbill.yml")
}

// Default returns the default Config struct for a yacht.
func Default(yachtID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, yachtID))).Decode(&cfg)
	cfg.Yacht.ID = yachtID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `yacht:
  id: %s
  name: ""

buckets:
  fallback: General
  roles:
    captain: [Bridge, Engineering, Deck, Interior, Safety, General]
    chief_engineer: [Engineering, Safety, Bridge, Deck, Interior, General]
    chief_officer: [Bridge, Deck, Safety, Engineering, Interior, General]
    chief_steward: [Interior, Safety, General, Deck, Bridge, Engineering]
    crew: [General, Deck, Interior, Engineering, Bridge, Safety]

links:
  base_url: https://app.watchbill.local
  signing_secret: ""
  document_ttl: 24h
  pdf_document_ttl: 168h

export:
  artifact_root: .watchbill/artifacts
  gateway:
    url: ""
    secret: ""
    timeout_seconds: 5

webhooks: []
`
