package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conda-pypi/internal/app"
	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
)

type indexAccessOptions struct {
	IndexURL         string
	HTTPTimeoutSec   int
	HTTPRetries      int
	HTTPRetryDelayMs int
}

func (o *indexAccessOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.IndexURL, "index-url", "", "PEP 503 simple index base URL (defaults to PyPI)")
	cmd.Flags().IntVar(&o.HTTPTimeoutSec, "http-timeout", 60, "HTTP timeout in seconds (0 = default)")
	cmd.Flags().IntVar(&o.HTTPRetries, "http-retries", 3, "HTTP attempts per request (0 = default)")
	cmd.Flags().IntVar(&o.HTTPRetryDelayMs, "http-retry-delay-ms", 200, "HTTP retry base delay in ms (0 = default)")
	_ = viper.BindPFlag("index_url", cmd.Flags().Lookup("index-url"))
	_ = viper.BindPFlag("http_timeout_sec", cmd.Flags().Lookup("http-timeout"))
	_ = viper.BindPFlag("http_retries", cmd.Flags().Lookup("http-retries"))
	_ = viper.BindPFlag("http_retry_delay_ms", cmd.Flags().Lookup("http-retry-delay-ms"))
}

func (o indexAccessOptions) resolve(cmd *cobra.Command) ports.FinderOptions {
	return ports.FinderOptions{
		IndexURL:         resolveString(cmd, o.IndexURL, "index_url", "index-url"),
		HTTPTimeoutSec:   resolveInt(cmd, o.HTTPTimeoutSec, "http_timeout_sec", "http-timeout"),
		HTTPRetries:      resolveInt(cmd, o.HTTPRetries, "http_retries", "http-retries"),
		HTTPRetryDelayMs: resolveInt(cmd, o.HTTPRetryDelayMs, "http_retry_delay_ms", "http-retry-delay-ms"),
	}
}

type convertTreeOptions struct {
	Prefix           string
	RepoDir          string
	CacheDir         string
	NameMapping      string
	Workers          int
	FetchMissing     bool
	OverrideChannels bool
	Channels         []string
	Index            indexAccessOptions
}

func newConvertTreeCommand() *cobra.Command {
	opts := convertTreeOptions{}
	cmd := &cobra.Command{
		Use:   "convert-tree REQUIREMENT...",
		Short: "Convert requested packages and their installed dependencies into a local channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvertTree(cmd.Context(), cmd, args, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.Prefix, "prefix", "p", "", "Environment prefix holding the installed packages (defaults to $CONDA_PREFIX)")
	cmd.Flags().StringVar(&opts.RepoDir, "repo", "conda-pypi-repo", "Local channel directory to write packages to")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "Wheel download cache (defaults to the user cache directory)")
	cmd.Flags().StringVar(&opts.NameMapping, "name-mapping", "", "JSON or YAML file mapping PyPI names to conda names")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Concurrent conversions (0 = number of CPUs)")
	cmd.Flags().BoolVar(&opts.FetchMissing, "fetch-missing", true, "Download requirements that are not installed in the prefix")
	cmd.Flags().BoolVar(&opts.OverrideChannels, "override-channels", false, "Convert every package even when a channel already provides it")
	cmd.Flags().StringSliceVarP(&opts.Channels, "channel", "c", nil, "Local channel whose packages count as already available")
	opts.Index.register(cmd)
	_ = viper.BindPFlag("prefix", cmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("repo", cmd.Flags().Lookup("repo"))
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("name_mapping", cmd.Flags().Lookup("name-mapping"))
	_ = viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("fetch_missing", cmd.Flags().Lookup("fetch-missing"))
	_ = viper.BindPFlag("override_channels", cmd.Flags().Lookup("override-channels"))
	_ = viper.BindPFlag("channels", cmd.Flags().Lookup("channel"))
	return cmd
}

func runConvertTree(ctx context.Context, cmd *cobra.Command, specs []string, opts convertTreeOptions) error {
	service := newAppService()
	result, err := service.ConvertTree(ctx, app.ConvertTreeRequest{
		Prefix:           resolvePrefix(cmd, opts.Prefix),
		RepoDir:          resolveString(cmd, opts.RepoDir, "repo", "repo"),
		CacheDir:         resolveString(cmd, opts.CacheDir, "cache_dir", "cache-dir"),
		Specs:            specs,
		NameMappingPath:  resolveString(cmd, opts.NameMapping, "name_mapping", "name-mapping"),
		Workers:          resolveInt(cmd, opts.Workers, "workers", "workers"),
		FetchMissing:     resolveBool(cmd, opts.FetchMissing, "fetch_missing", "fetch-missing"),
		OverrideChannels: resolveBool(cmd, opts.OverrideChannels, "override_channels", "override-channels"),
		Channels:         resolveStrings(cmd, opts.Channels, "channels", "channel"),
		Finder:           opts.Index.resolve(cmd),
	})
	report := result.Report
	if len(report.Failures) > 0 {
		log.Ctx(ctx).Error().Msg(core.FailureSummary(report.Failures))
	}
	if err != nil {
		return err
	}
	fmt.Printf("converted %d packages into %s (%d records, %s)\n",
		len(report.Results), report.Index.Root, report.Index.Records, result.Elapsed.Round(time.Millisecond))
	return nil
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return value
}
