package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conda-pypi/internal/app"
	"conda-pypi/internal/shared"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "CONDA_PYPI"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		reportError(err)
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "conda-pypi",
		Short:         "Convert Python wheels and projects into conda packages",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(viper.GetString("log_level"))
			cmd.SetContext(withRunLogger(cmd.Context()))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newConvertCommand())
	cmd.AddCommand(newConvertTreeCommand())
	cmd.AddCommand(newFetchCommand())
	cmd.AddCommand(newIndexCommand())
	return cmd
}

var newAppService = app.NewService

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return shared.ConfigurationError("failed to read config file", err)
		}
		return nil
	}

	viper.SetConfigName("conda-pypi")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/conda-pypi")
	if err := viper.ReadInConfig(); err != nil {
		return nil
	}
	return nil
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// withRunLogger attaches the global logger, tagged with a fresh run id,
// to ctx so services can use log.Ctx.
func withRunLogger(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.Logger.With().Str("run", uuid.NewString()).Logger()
	return logger.WithContext(ctx)
}

func exitCodeForError(err error) int {
	switch shared.KindOf(err) {
	case shared.KindUsage, shared.KindConfiguration:
		return 2
	case shared.KindPackageFormat, shared.KindResolution:
		return 4
	case shared.KindBuild, shared.KindNetwork:
		return 5
	}
	switch errbuilder.CodeOf(err) {
	case errbuilder.CodeInvalidArgument, errbuilder.CodeAlreadyExists:
		return 2
	case errbuilder.CodeFailedPrecondition:
		return 4
	case errbuilder.CodePermissionDenied:
		return 3
	case errbuilder.CodeNotFound:
		return 4
	case errbuilder.CodeInternal:
		return 5
	default:
		return 1
	}
}

func errorMessage(err error) string {
	var kindErr *shared.KindError
	if errors.As(err, &kindErr) {
		err = kindErr.Err
	}
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
}
