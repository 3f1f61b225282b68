package cmd

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/blockkit/manifest"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and supported manifest values",
	Long: `Display the blockkit version, the Go toolchain and VCS revision it was
built from, and the block types and fee currencies this build accepts.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "blockkit %s\n", version)
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, "  go:          %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Fprintf(w, "  revision:    %s\n", s.Value)
			}
		}
	}

	kinds := []string{string(manifest.Analyst), string(manifest.Action), string(manifest.Custodial)}
	fmt.Fprintf(w, "  block types: %s\n", strings.Join(kinds, ", "))

	currencies := make([]string, len(manifest.Currencies))
	for i, c := range manifest.Currencies {
		currencies[i] = string(c)
	}
	fmt.Fprintf(w, "  currencies:  %s\n", strings.Join(currencies, ", "))
}
