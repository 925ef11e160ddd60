package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint and the failed units log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := LoadSettings(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			store, err := openCheckpoint(cmd.Context(), s.Checkpoint, s.Name)
			if err != nil {
				return errors.Wrap(err, "open checkpoint")
			}
			if store == nil {
				return errors.New("checkpoint backend none keeps no status")
			}
			defer store.Close()
			cp, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			items, err := store.Items(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), cp, items)
			return nil
		},
	}
}
