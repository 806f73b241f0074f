package punchlog

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Columns maps the external table's columns. Defaults follow the BioTime
// iclock_transaction layout.
type Columns struct {
	Identifier string `yaml:"identifier"`
	Time       string `yaml:"time"`
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`
}

// SourceConfig is the connection descriptor of one city's punch database.
type SourceConfig struct {
	City     string  `yaml:"city"`
	Host     string  `yaml:"host"`
	Port     int     `yaml:"port"`
	Username string  `yaml:"username"`
	Password string  `yaml:"password"`
	Database string  `yaml:"database"`
	Table    string  `yaml:"table"`
	Timezone string  `yaml:"timezone"`
	Columns  Columns `yaml:"columns"`
}

type catalogFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (c *SourceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Table == "" {
		c.Table = "iclock_transaction"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.Columns.Identifier == "" {
		c.Columns.Identifier = "emp_code"
	}
	if c.Columns.Time == "" {
		c.Columns.Time = "punch_time"
	}
	if c.Columns.DeviceID == "" {
		c.Columns.DeviceID = "terminal_sn"
	}
	if c.Columns.DeviceName == "" {
		c.Columns.DeviceName = "terminal_alias"
	}
}

func (c SourceConfig) validate() error {
	if strings.TrimSpace(c.City) == "" {
		return fmt.Errorf("source without city")
	}
	if c.Host == "" || c.Database == "" {
		return fmt.Errorf("source %s: host and database required", c.City)
	}
	for _, ident := range []string{c.Table, c.Columns.Identifier, c.Columns.Time, c.Columns.DeviceID, c.Columns.DeviceName} {
		if !identRE.MatchString(ident) {
			return fmt.Errorf("source %s: invalid identifier %q", c.City, ident)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("source %s: %w", c.City, err)
	}
	return nil
}

// DSN renders a go-sql-driver/mysql data source name.
func (c SourceConfig) DSN(timeout time.Duration) string {
	q := url.Values{}
	q.Set("parseTime", "true")
	q.Set("loc", c.Timezone)
	q.Set("charset", "utf8mb4")
	if timeout > 0 {
		q.Set("timeout", timeout.String())
		q.Set("readTimeout", timeout.String())
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.Username, c.Password, c.Host, c.Port, c.Database, q.Encode())
}

// ParseCatalog decodes a YAML catalogue of per-city sources.
func ParseCatalog(data []byte) ([]SourceConfig, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	seen := map[string]bool{}
	for i := range f.Sources {
		f.Sources[i].applyDefaults()
		if err := f.Sources[i].validate(); err != nil {
			return nil, err
		}
		key := normalizeCity(f.Sources[i].City)
		if seen[key] {
			return nil, fmt.Errorf("duplicate source for city %s", f.Sources[i].City)
		}
		seen[key] = true
	}
	return f.Sources, nil
}

// LoadCatalogFile reads the catalogue at path. An empty path yields no sources.
func LoadCatalogFile(path string) ([]SourceConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read punch sources: %w", err)
	}
	return ParseCatalog(data)
}

func normalizeCity(city string) string { return strings.ToLower(strings.TrimSpace(city)) }
