package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conda-pypi/internal/app"
)

func newIndexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "index CHANNEL_DIR",
		Short: "Regenerate repodata.json for a local channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args[0])
		},
	}
}

func runIndex(ctx context.Context, dir string) error {
	service := newAppService()
	result, err := service.Index(ctx, app.IndexRequest{RepoDir: dir})
	if err != nil {
		return err
	}
	fmt.Printf("indexed %s: %d records in %s\n", result.Summary.Root, result.Summary.Records, strings.Join(result.Summary.Subdirs, ", "))
	return nil
}
