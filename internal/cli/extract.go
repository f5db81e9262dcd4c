// Package cli (extract.go) implements "expo-container extract" and
// "expo-container prepare", which expose the asset extraction and build
// context merge steps of "up" on their own, e.g. for building the image
// with another tool.
package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/expo-container/internal/assets"
	"github.com/mmr-tortoise/expo-container/internal/buildctx"
)

// NewExtractCommand creates the "extract" cobra command.
func NewExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Write the packaged Dockerfile and scripts to disk",
		Long: `Write the packaged Dockerfile, entrypoint.sh, and instrumentation.js to a
temporary directory and print its path.

When the files cannot be written the fallback directory "." is printed
and a warning logged.`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.OutOrStdout())
		},
	}
}

func runExtract(out io.Writer) error {
	res := assets.NewExtractor(assets.WithLogger(logger)).Extract()

	if IsJSONOutput() {
		payload := map[string]any{
			"dir":        res.Dir,
			"dockerfile": res.Path(assets.DockerfileName),
			"degraded":   res.Degraded,
		}
		if res.Err != nil {
			payload["error"] = res.Err.Error()
		}
		return printJSON(out, payload)
	}
	fmt.Fprintln(out, res.Dir)
	return nil
}

// NewPrepareCommand creates the "prepare" cobra command.
func NewPrepareCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <app-dir>",
		Short: "Print the effective build context of an app",
		Long: `Print the build context "up" would send to Docker for <app-dir>.

An app that already has entrypoint.sh is used as it is. Otherwise the app is
copied to a temporary directory together with the packaged support files,
and that copy is printed. The copy is left in place for the caller to
remove.

Example:
  docker build -f "$(expo-container extract)/Dockerfile" "$(expo-container prepare ./app)"`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(cmd.OutOrStdout(), args[0])
		},
	}
}

func runPrepare(out io.Writer, appDir string) error {
	abs, err := filepath.Abs(appDir)
	if err != nil {
		return err
	}

	extracted := assets.NewExtractor(assets.WithLogger(logger)).Extract()
	res := buildctx.NewMerger(buildctx.WithLogger(logger)).Prepare(abs, extracted.Dir)

	if IsJSONOutput() {
		payload := map[string]any{
			"dir":        res.Dir,
			"dockerfile": extracted.Path(assets.DockerfileName),
			"merged":     res.Merged,
			"degraded":   res.Degraded || extracted.Degraded,
		}
		if res.Err != nil {
			payload["error"] = res.Err.Error()
		}
		return printJSON(out, payload)
	}
	fmt.Fprintln(out, res.Dir)
	return nil
}
