package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conda-pypi/internal/app"
)

type fetchOptions struct {
	Prefix   string
	CacheDir string
	Index    indexAccessOptions
}

func newFetchCommand() *cobra.Command {
	opts := fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch REQUIREMENT...",
		Short: "Download the best matching wheels for the target environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Prefix, "prefix", "p", "", "Target environment prefix (defaults to $CONDA_PREFIX)")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Wheel download directory (defaults to the user cache directory)")
	opts.Index.register(cmd)
	_ = viper.BindPFlag("prefix", cmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	return cmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, specs []string, opts fetchOptions) error {
	service := newAppService()
	result, err := service.Fetch(ctx, app.FetchRequest{
		Prefix:   resolvePrefix(cmd, opts.Prefix),
		CacheDir: resolveString(cmd, opts.CacheDir, "cache_dir", "cache-dir"),
		Specs:    specs,
		Finder:   opts.Index.resolve(cmd),
	})
	if err != nil {
		return err
	}
	for _, wheel := range result.Wheels {
		fmt.Println(wheel.Path)
	}
	return nil
}
