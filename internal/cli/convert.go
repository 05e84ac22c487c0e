package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conda-pypi/internal/app"
)

type convertOptions struct {
	OutputFolder string
	Prefix       string
	TestDir      string
	NameMapping  string
	Editable     bool
}

func newConvertCommand() *cobra.Command {
	opts := convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert PROJECT_PATH",
		Short: "Build a conda package from a wheel, sdist or Python project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.OutputFolder, "output-folder", app.DefaultOutputFolder, "Folder to write the conda package to")
	cmd.Flags().StringVarP(&opts.Prefix, "prefix", "p", "", "Target environment prefix (defaults to $CONDA_PREFIX)")
	cmd.Flags().StringVarP(&opts.TestDir, "test-dir", "t", "", "Directory with run_test.* files to embed as package tests")
	cmd.Flags().StringVar(&opts.NameMapping, "name-mapping", "", "JSON or YAML file mapping PyPI names to conda names")
	cmd.Flags().BoolVarP(&opts.Editable, "editable", "e", false, "Build an editable package")
	_ = viper.BindPFlag("output_folder", cmd.Flags().Lookup("output-folder"))
	_ = viper.BindPFlag("prefix", cmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("name_mapping", cmd.Flags().Lookup("name-mapping"))
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, project string, opts convertOptions) error {
	service := newAppService()
	result, err := service.Convert(ctx, app.ConvertRequest{
		ProjectPath:     project,
		OutputDir:       resolveString(cmd, opts.OutputFolder, "output_folder", "output-folder"),
		Prefix:          resolvePrefix(cmd, opts.Prefix),
		TestDir:         opts.TestDir,
		NameMappingPath: resolveString(cmd, opts.NameMapping, "name_mapping", "name-mapping"),
		Editable:        opts.Editable,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Conda package at %s built successfully. Output folder: %s.\n", result.Artifact.Path, result.OutputDir)
	return nil
}

// resolvePrefix falls back to the active conda environment.
func resolvePrefix(cmd *cobra.Command, value string) string {
	prefix := resolveString(cmd, value, "prefix", "prefix")
	if strings.TrimSpace(prefix) != "" {
		return prefix
	}
	return os.Getenv("CONDA_PREFIX")
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	if configured := viper.GetString(key); configured != "" {
		return configured
	}
	return value
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	if configured := viper.GetStringSlice(key); len(configured) > 0 {
		return configured
	}
	return values
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return value
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
