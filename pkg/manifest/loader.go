package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/cloudres/internal/assets"
)

// Load reads and validates a profile from the given file path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline profile not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading pipeline profile: %s", path)
		}
		return nil, fmt.Errorf("failed to read pipeline profile: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromReader reads and validates a profile from an io.Reader.
func LoadFromReader(r io.Reader) (*Profile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline profile: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML (or JSON, a YAML subset). The raw document is
// checked against the embedded schema, then decoded strictly; defaults are
// applied before the final validation.
func LoadFromBytes(data []byte) (*Profile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("pipeline profile is empty")
	}

	jsonData, err := yamlToJSON(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid YAML in pipeline profile: %w", err)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Default returns the embedded default profile.
func Default() *Profile {
	p, err := LoadFromBytes(assets.DefaultPipelineProfile)
	if err != nil {
		panic(fmt.Sprintf("embedded pipeline profile is invalid: %v", err))
	}
	return p
}

// LoadOrDefault loads path, or the embedded default when path is empty.
func LoadOrDefault(path string) (*Profile, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// yamlToJSON converts YAML data to JSON for schema validation.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in pipeline profile: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert pipeline profile to JSON: %w", err)
	}
	return jsonData, nil
}
