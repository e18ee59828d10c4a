package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/opst/assetgraph/pkg/buildtime"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assetgraph",
		Short:         "Lay out asset graphs and watch live data of assets",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildtime.VersionString(),
	}
	root.AddCommand(newLayoutCmd(), newWatchCmd(), newPartitionsCmd())
	return root
}

// open a file to read. "-" means stdin of cmd.
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}

// decode json from a file or stdin into v.
func readJSON(cmd *cobra.Command, path string, v any) error {
	in, err := openInput(cmd, path)
	if err != nil {
		return err
	}
	defer in.Close()
	return json.NewDecoder(in).Decode(v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
