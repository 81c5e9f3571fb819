// Package main provides the entry point for ear, the Reader's Ear command
// line client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "readers-ear"

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string

	rootCmd = &cobra.Command{
		Use:   "ear [SELECTOR]",
		Short: "Listen to your text",
		Long: paragraph(
			fmt.Sprintf("\nTurn text and photos of text into speech with %s.\nEvery item is kept in a local history together with its audio.", keyword("ear")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		RunE:             listRunE,
	}
)

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = closer()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().String("dir", "", "directory holding the history and its audio")
	rootCmd.PersistentFlags().String("engine", "", "speech engine (gemini or mock)")

	// Config bindings
	_ = viper.BindPFlag("storage.dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("engine.name", rootCmd.PersistentFlags().Lookup("engine"))

	if dir, err := defaultDataDir(); err == nil {
		viper.SetDefault("storage.dir", dir)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("config") || configFile == "" {
			return nil
		}
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		log.Debug("Using config file", "path", viper.ConfigFileUsed())
		return nil
	}

	rootCmd.AddCommand(
		listCmd, newCmd, editCmd, showCmd, rmCmd, copyCmd,
		generateCmd, extractCmd, playCmd, exportCmd,
		configCmd, manCmd,
	)
}

// defaultDataDir returns the first user data directory for ear.
func defaultDataDir() (string, error) {
	dirs, err := gap.NewScope(gap.User, appName).DataDirs()
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", errors.New("no data directory available")
	}
	return dirs[0], nil
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, appName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}

	if c := os.Getenv("READERS_EAR_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("ear")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ear")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		configFile = used
		log.Debug("Using config file", "path", used)
		return
	}

	log.Debug("No config file found", "places", dirs)
	configFile = filepath.Join(dirs[0], "ear.yml")
	if err := ensureConfigFile(); err != nil {
		log.Warn("Could not create default configuration", "error", err)
	}
}
