package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/google/renameio"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Where the history and its audio are kept (default: user data dir)
# storage:
#   dir: "~/.local/share/readers-ear"
storage:
  # Audio backend: disk, sqlite, bolt or memory
  blob_backend: "disk"
  # History backend: file, sqlite or memory
  metadata_backend: "file"
  # zstd level for disk audio files, 0 stores them uncompressed
  compression_level: 3

history:
  # Quiet period before edits are written to disk
  flush_delay: "1s"

engine:
  # Speech engine: gemini or mock
  name: "gemini"
  # The API key is read from GEMINI_API_KEY (or API_KEY)
  gemini:
    base_url: "https://generativelanguage.googleapis.com/v1beta"
    ocr_model: "gemini-2.5-flash"
    tts_model: "gemini-2.5-flash-preview-tts"
    voice: "Kore"
    timeout: "60s"
    requests_per_minute: 30
`

var configPathOnly bool

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the ear config file",
	Long:    paragraph(fmt.Sprintf("\n%s the ear config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("ear config\near config --config path/to/config.yml\near config --path"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		if configPathOnly {
			fmt.Fprintln(cmd.OutOrStdout(), configFile)
			return nil
		}

		c, err := editor.Cmd("Reader's Ear", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Wrote config file to:", configFile)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configPathOnly, "path", false, "print the config file location and exit")
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if configFile == "" {
			return errors.New("no configuration file location")
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}
		if err := renameio.WriteFile(configFile, []byte(defaultConfig), 0o600); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
