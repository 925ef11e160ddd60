// Command trajingest bulk loads delimited trajectory files into a spatial database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "trajingest",
		Short: "Resumable bulk ingestion of trajectory files",
		Long: `trajingest loads delimited trajectory files from a local directory,
an SFTP or an FTP server into PostgreSQL or MySQL, in parallel lanes with
transactional batches and a durable checkpoint.

Commands:
  run       ingest the source, resuming from the checkpoint
  status    print the checkpoint and the failed units log`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./trajingest.yaml)")
	root.PersistentFlags().String("name", "", "run name, keys the checkpoint in shared stores")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	root.PersistentFlags().String("checkpoint", "", "checkpoint backend: file, bolt, mysql or none")
	root.PersistentFlags().String("checkpoint-dir", "", "directory of the file checkpoint")
	root.PersistentFlags().String("checkpoint-path", "", "database file of the bolt checkpoint")
	root.PersistentFlags().String("checkpoint-dsn", "", "dsn of the mysql checkpoint")

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	return root
}
