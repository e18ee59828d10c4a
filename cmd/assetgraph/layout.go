package main

import (
	"fmt"

	"github.com/opst/assetgraph/pkg/layout"
	"github.com/opst/assetgraph/pkg/layout/dot"
	"github.com/spf13/cobra"
)

func newLayoutCmd() *cobra.Command {
	var (
		asDot    bool
		mini     bool
		collapse []string
	)
	cmd := &cobra.Command{
		Use:   "layout [graph.json|-]",
		Short: "Compute a layout of an asset graph",
		Long: `Compute a layout of an asset graph, and print it as JSON or Graphviz DOT.

The graph is a JSON like {"nodes": [{"id": "s3/a", "opName": "a"}], "edges": [{"from": "s3/a", "to": "b"}]}.
It is read from stdin when the argument is "-".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph := layout.Graph{}
			if err := readJSON(cmd, args[0], &graph); err != nil {
				return fmt.Errorf("read graph: %w", err)
			}

			l, err := layout.ComputeLayout(graph, layout.Mini(mini), layout.Collapse(collapse...))
			if err != nil {
				return err
			}
			if asDot {
				return dot.Write(cmd.OutOrStdout(), l)
			}
			return writeJSON(cmd.OutOrStdout(), l)
		},
	}
	cmd.Flags().BoolVar(&asDot, "dot", false, "print as Graphviz DOT")
	cmd.Flags().BoolVar(&mini, "mini", false, "narrow nodes and small separations")
	cmd.Flags().StringArrayVar(&collapse, "collapse", nil, "bundle id to be collapsed. repeatable")
	return cmd
}
