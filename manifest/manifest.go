// Package manifest decodes and validates the declaration a block publishes
// when it registers: its identity, kind, license, jurisdictions and fee.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// BlockType is the declared kind of a block.
type BlockType string

const (
	Analyst   BlockType = "analyst"
	Action    BlockType = "action"
	Custodial BlockType = "custodial"
)

func (t BlockType) Valid() bool {
	switch t {
	case Analyst, Action, Custodial:
		return true
	}
	return false
}

// Publisher is the (name, identifier) pair of whoever published the block.
type Publisher struct {
	Name string
	ID   string
}

func (p Publisher) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Name, p.ID})
}

// License is the (name, URL) reference a block is distributed under.
type License struct {
	Name string
	URL  string
}

func (l License) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Name, l.URL})
}

// Manifest describes a block. Build one with Decode, never by hand, so the
// invariants below always hold:
//   - BlockType is one of Analyst, Action, Custodial
//   - Fee is nil or a single validated Fee
//   - every AllowedJurisdictions entry is an ISO 3166-1 alpha-3 code
type Manifest struct {
	Name                 string    `json:"name"`
	Version              string    `json:"version"`
	BlockType            BlockType `json:"block_type"`
	Publisher            Publisher `json:"publisher"`
	Description          string    `json:"description"`
	License              *License  `json:"license,omitempty"`
	Fee                  Fee       `json:"fee,omitempty"`
	AllowedJurisdictions []string  `json:"allowed_jurisdictions,omitempty"`
}

// Key identifies a manifest by name and version.
func (m Manifest) Key() string {
	return m.Name + "@" + m.Version
}

// AllowsJurisdiction reports whether the block may operate in code. A
// manifest without an allow-list is unrestricted.
func (m Manifest) AllowsJurisdiction(code string) bool {
	if len(m.AllowedJurisdictions) == 0 {
		return true
	}
	for _, j := range m.AllowedJurisdictions {
		if j == code {
			return true
		}
	}
	return false
}

// Digest is the SHA-256 of the manifest's RFC 8785 canonical JSON.
func (m Manifest) Digest() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
