package sync

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/config"
)

// FieldSource identifies where the value for a mapped API field comes from.
// It is a closed set: every source is either a fixed user-record attribute or
// SourceGeneratedGUID, which synthesizes a fresh identifier at send time.
type FieldSource int64

const (
	SourceEmail FieldSource = iota
	SourceUsername
	SourceFirstName
	SourceLastName
	SourceDisplayName
	SourceWebsite
	SourceRegistered
	SourceUserID
	SourceGeneratedGUID
)

// fieldSourceNames are the configuration-facing names of the sources,
// matching the attribute keys of the host application's user records.
var fieldSourceNames = map[FieldSource]string{
	SourceEmail:         "user_email",
	SourceUsername:      "user_login",
	SourceFirstName:     "first_name",
	SourceLastName:      "last_name",
	SourceDisplayName:   "display_name",
	SourceWebsite:       "user_url",
	SourceRegistered:    "user_registered",
	SourceUserID:        "ID",
	SourceGeneratedGUID: "guid",
}

func (s FieldSource) String() string {
	if name, exists := fieldSourceNames[s]; exists {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int64(s))
}

// MarshalJSON writes the configuration-facing name, so mapping lists appear
// in audit snapshots the same way they are configured.
func (s FieldSource) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// ParseFieldSource maps a configured source name to its FieldSource.
// Unknown names are a configuration error, not a runtime miss.
func ParseFieldSource(name string) (FieldSource, error) {
	for source, n := range fieldSourceNames {
		if n == name {
			return source, nil
		}
	}
	return 0, fmt.Errorf("unknown field source %q", name)
}

// FieldMapping associates a remote API field name (the ador name) with the
// source of its value.
type FieldMapping struct {
	APIField string      `json:"apiField"`
	Source   FieldSource `json:"source"`
}

// Config is the sync configuration maintained outside this module (by an
// admin surface) and read-only to the core. An absent or incomplete Config
// is a valid state which the core detects and rejects without a remote call.
type Config struct {
	Endpoint      string
	AccessToken   string
	FieldMappings []FieldMapping
}

// IsComplete reports whether the configuration is sufficient to attempt a
// sync: endpoint, token and at least one field mapping.
func (c Config) IsComplete() bool {
	return c.Endpoint != "" && c.AccessToken != "" && len(c.FieldMappings) > 0
}

// Validate checks the structural invariants of the mapping list. Duplicate
// API field names are allowed (the last mapping wins, see
// BuildRecipientValues) but empty ones are not.
func (c Config) Validate() error {
	for i, m := range c.FieldMappings {
		if m.APIField == "" {
			return fmt.Errorf("field mapping %d has an empty API field name", i)
		}
		if _, exists := fieldSourceNames[m.Source]; !exists {
			return fmt.Errorf("field mapping %d (%s) has an unknown source", i, m.APIField)
		}
	}
	return nil
}

// ConfigSource supplies the currently configured sync settings. The
// orchestrator reads it once per attempt so edits made between attempts are
// picked up without a restart.
type ConfigSource interface {
	SyncConfig() (Config, error)
}

// StaticConfigSource returns a fixed Config, mainly for tests and one-shot
// tooling.
type StaticConfigSource struct {
	Config Config
}

func (s StaticConfigSource) SyncConfig() (Config, error) {
	return s.Config, nil
}

// FileConfigSource re-reads a YAML configuration file on every call.
type FileConfigSource struct {
	Path string
}

func (f FileConfigSource) SyncConfig() (Config, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file %w", err)
	}
	defer file.Close()
	return YAMLConfigUnmarshaler{}.Unmarshal(file)
}

// yamlConfig is the YAML-facing shape of Config, with sources as names.
type yamlConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessToken   string `yaml:"accessToken"`
	FieldMappings []struct {
		APIField string `yaml:"apiField"`
		Source   string `yaml:"source"`
	} `yaml:"fieldMappings"`
}

type YAMLConfigUnmarshaler struct{}

// Unmarshal reads sync configuration from one or more YAML sources, later
// sources overriding earlier ones, with ${VAR} values expanded from the
// environment.
func (u YAMLConfigUnmarshaler) Unmarshal(sources ...io.Reader) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		options = append(options, config.Source(s))
	}
	options = append(options, config.Expand(os.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}

	var raw yamlConfig
	err = yaml.Get(config.Root).Populate(&raw)
	if err != nil {
		return result, fmt.Errorf("failed to populate yaml config %w", err)
	}

	result.Endpoint = raw.Endpoint
	result.AccessToken = raw.AccessToken
	for _, m := range raw.FieldMappings {
		source, err := ParseFieldSource(m.Source)
		if err != nil {
			return result, fmt.Errorf("failed to read mapping for %q %w", m.APIField, err)
		}
		result.FieldMappings = append(result.FieldMappings, FieldMapping{
			APIField: m.APIField,
			Source:   source,
		})
	}

	if err := result.Validate(); err != nil {
		return result, err
	}
	return result, nil
}
