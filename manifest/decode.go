package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

type manifestWire struct {
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	BlockType            BlockType       `json:"block_type"`
	Publisher            json.RawMessage `json:"publisher"`
	Description          string          `json:"description"`
	License              json.RawMessage `json:"license"`
	Fee                  json.RawMessage `json:"fee"`
	AllowedJurisdictions []string        `json:"allowed_jurisdictions"`
}

// Decode validates and normalizes a raw JSON manifest. It has no side
// effects. Any failure is a *SchemaError.
func Decode(raw []byte) (Manifest, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, schemaErr(CodeMalformed, "", "manifest is not valid JSON: %v", err)
	}
	schema, err := manifestSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Manifest{}, schemaErr(CodeMalformed, "", "%v", err)
	}

	var w manifestWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Manifest{}, schemaErr(CodeMalformed, "", "%v", err)
	}

	if !w.BlockType.Valid() {
		return Manifest{}, schemaErr(CodeUnknownBlockType, "block_type",
			"block_type %q must be one of analyst, action, custodial", w.BlockType)
	}

	m := Manifest{
		Name:        w.Name,
		Version:     w.Version,
		BlockType:   w.BlockType,
		Description: w.Description,
	}

	if m.Publisher, err = decodePublisher(w.Publisher); err != nil {
		return Manifest{}, err
	}
	if _, err := semver.NewVersion(w.Version); err != nil {
		return Manifest{}, schemaErr(CodeInvalidVersion, "version", "version %q is not a semantic version", w.Version)
	}
	if m.License, err = decodeLicense(w.License); err != nil {
		return Manifest{}, err
	}
	if m.Fee, err = normalizeFee(w.Fee); err != nil {
		return Manifest{}, err
	}

	for i, code := range w.AllowedJurisdictions {
		if !ValidJurisdiction(code) {
			return Manifest{}, schemaErr(CodeInvalidJurisdiction, fmt.Sprintf("allowed_jurisdictions[%d]", i),
				"%q is not an ISO 3166-1 alpha-3 country code", code)
		}
	}
	if len(w.AllowedJurisdictions) > 0 {
		m.AllowedJurisdictions = append([]string(nil), w.AllowedJurisdictions...)
	}

	return m, nil
}

// DecodeYAML accepts the same document written as YAML.
func DecodeYAML(raw []byte) (Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, schemaErr(CodeMalformed, "", "manifest is not valid YAML: %v", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Manifest{}, schemaErr(CodeMalformed, "", "manifest cannot be represented as JSON: %v", err)
	}
	return Decode(data)
}

// Config is a validated manifest together with its separately validated fee.
type Config struct {
	Manifest Manifest
	Fee      Fee
}

// ValidateConfig decodes the manifest and then re-validates its fee on its
// own, the way fees submitted outside a manifest are checked.
func ValidateConfig(raw []byte) (Config, error) {
	m, err := Decode(raw)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Manifest: m}
	if m.Fee == nil {
		return cfg, nil
	}

	data, err := json.Marshal(m.Fee)
	if err != nil {
		return Config{}, fmt.Errorf("marshal fee: %w", err)
	}
	if cfg.Fee, err = DecodeFee(data); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodePublisher(raw json.RawMessage) (Publisher, error) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 || pair[0] == "" {
			return Publisher{}, schemaErr(CodeInvalidPublisher, "publisher", "publisher must be a (name, identifier) pair")
		}
		return Publisher{Name: pair[0], ID: pair[1]}, nil
	}

	var obj struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Name == "" {
		return Publisher{}, schemaErr(CodeInvalidPublisher, "publisher", "publisher must be a (name, identifier) pair")
	}
	return Publisher{Name: obj.Name, ID: obj.ID}, nil
}

func decodeLicense(raw json.RawMessage) (*License, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var l License
	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 {
			return nil, schemaErr(CodeInvalidLicense, "license", "license must be a (name, URL) pair")
		}
		l = License{Name: pair[0], URL: pair[1]}
	} else {
		var obj struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, schemaErr(CodeInvalidLicense, "license", "license must be a (name, URL) pair")
		}
		l = License{Name: obj.Name, URL: obj.URL}
	}

	if l.Name == "" {
		return nil, schemaErr(CodeInvalidLicense, "license", "license name is required")
	}
	u, err := url.ParseRequestURI(l.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schemaErr(CodeInvalidLicense, "license", "license URL %q is not an absolute http(s) URL", l.URL)
	}
	return &l, nil
}
