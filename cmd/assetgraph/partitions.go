package main

import (
	"fmt"

	"github.com/opst/assetgraph/pkg/partitions"
	"github.com/spf13/cobra"
)

type partitionsInput struct {
	Health     []partitions.StaticHealth `json:"health"`
	Selections []partitions.Selection    `json:"selections"`
}

type partitionsOutput struct {
	Dimensions []partitions.Dimension `json:"dimensions"`
	Partitions []partitions.KeyState  `json:"partitions"`
}

func newPartitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partitions [input.json|-]",
		Short: "Merge partition health of assets, and list states of selected partitions",
		Long: `Merge partition health of assets, and list states of selected partitions.

The input is a JSON like
{"health": [{"dimensions": [...], "states": {"2024-01-01|us": "SUCCESS"}}], "selections": [...]}.
Assets should have the same dimensions, and up to 2 dimensions can be selected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := partitionsInput{}
			if err := readJSON(cmd, args[0], &input); err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			healths := make([]partitions.Health, 0, len(input.Health))
			for _, h := range input.Health {
				healths = append(healths, h)
			}
			merged, err := partitions.MergedAssetHealth(healths)
			if err != nil {
				return err
			}
			states, err := partitions.ExplodePartitionKeysInSelection(input.Selections, merged.StateForKey)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), partitionsOutput{
				Dimensions: merged.Dimensions(),
				Partitions: states,
			})
		},
	}
}
