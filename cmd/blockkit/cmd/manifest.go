package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/blockkit/manifest"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Validate block manifests",
	Long: `Work with block manifests.

Subcommands:
  validate - Validate a manifest and its fee, and print its digest

Examples:
  blockkit manifest validate block.json
  blockkit manifest validate block.yaml`,
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a manifest file",
	Long: `Check a manifest (JSON or YAML) against the manifest schema, re-validate
its fee structure and print the normalized manifest with its digest.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestValidate,
}

func init() {
	rootCmd.AddCommand(manifestCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
}

// readManifest returns the file as JSON, converting YAML by extension.
func readManifest(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest YAML: %w", err)
	}
	return json.Marshal(doc)
}

func runManifestValidate(cmd *cobra.Command, args []string) error {
	raw, err := readManifest(args[0])
	if err != nil {
		return err
	}
	cfg, err := manifest.ValidateConfig(raw)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	digest, err := cfg.Manifest.Digest()
	if err != nil {
		return err
	}

	m := cfg.Manifest
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Manifest valid: %s\n", args[0])
	fmt.Fprintf(out, "  Block: %s (%s)\n", m.Key(), m.BlockType)
	fmt.Fprintf(out, "  Publisher: %s (%s)\n", m.Publisher.Name, m.Publisher.ID)
	if cfg.Fee != nil {
		fmt.Fprintf(out, "  Fee: %s\n", cfg.Fee.Type())
	}
	if len(m.AllowedJurisdictions) > 0 {
		fmt.Fprintf(out, "  Jurisdictions: %s\n", strings.Join(m.AllowedJurisdictions, ", "))
	}
	fmt.Fprintf(out, "  Digest: %s\n", digest)
	return nil
}
