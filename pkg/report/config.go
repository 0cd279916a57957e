package report

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed defaults/report_config.yaml
var defaultsFS embed.FS

const defaultConfigName = "defaults/report_config.yaml"

// ElementSpec describes one reportlet slot of a group.
type ElementSpec struct {
	Name        string `json:"name" yaml:"name" toml:"name" validate:"required"`
	FilePattern string `json:"file_pattern" yaml:"file_pattern" toml:"file_pattern" validate:"required"`
	Title       string `json:"title" yaml:"title" toml:"title"`
	Description string `json:"description" yaml:"description" toml:"description"`
}

// SubReportSpec describes one named group of elements.
type SubReportSpec struct {
	Name     string        `json:"name" yaml:"name" toml:"name" validate:"required"`
	Title    string        `json:"title" yaml:"title" toml:"title"`
	Elements []ElementSpec `json:"elements" yaml:"elements" toml:"elements" validate:"dive"`
}

// Config is the parsed report configuration document.
type Config struct {
	SubReports []SubReportSpec `json:"sub_reports" yaml:"sub_reports" toml:"sub_reports" validate:"required,dive"`

	source string
	digest string
}

// Source returns the path the configuration was loaded from, or "embedded".
func (c *Config) Source() string { return c.source }

// Digest returns a SHA-256 of the raw configuration bytes.
func (c *Config) Digest() string { return c.digest }

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// LoadConfig reads and validates the report configuration at path. An empty
// path selects the embedded default configuration. The format follows the
// file extension: .yaml/.yml, .toml, anything else is parsed as JSON.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	raw, source, err := readConfigSource(fs, path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(raw, source)
}

// ConfigDigest hashes the configuration source without parsing it.
func ConfigDigest(fs afero.Fs, path string) (string, error) {
	raw, _, err := readConfigSource(fs, path)
	if err != nil {
		return "", err
	}
	return digestOf(raw), nil
}

func readConfigSource(fs afero.Fs, path string) ([]byte, string, error) {
	if path == "" {
		raw, err := defaultsFS.ReadFile(defaultConfigName)
		if err != nil {
			return nil, "", fmt.Errorf("%w: embedded default: %w", ErrConfigLoad, err)
		}
		return raw, "embedded:" + filepath.Base(defaultConfigName), nil
	}
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrConfigLoad, path, err)
	}
	return raw, path, nil
}

func digestOf(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ParseConfig decodes raw according to the extension of source and validates it.
func ParseConfig(raw []byte, source string) (*Config, error) {
	cfg := &Config{source: source, digest: digestOf(raw)}

	var err error
	switch strings.ToLower(filepath.Ext(source)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	case ".toml":
		_, err = toml.Decode(string(raw), cfg)
	default:
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigLoad, source, err)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", e.Namespace(), e.Tag()))
			}
			return nil, fmt.Errorf("%w: %s: %s", ErrConfigValidation, source, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigValidation, source, err)
	}
	return cfg, nil
}

// Build expands the configuration into fresh SubReports, compiling every
// element pattern. A malformed pattern fails the whole build.
func (c *Config) Build() ([]*SubReport, error) {
	groups := make([]*SubReport, 0, len(c.SubReports))
	for _, spec := range c.SubReports {
		sr, err := NewSubReport(spec)
		if err != nil {
			return nil, err
		}
		groups = append(groups, sr)
	}
	return groups, nil
}
