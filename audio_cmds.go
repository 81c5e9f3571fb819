package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/renameio"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readers-ear/internal/audio"
	"github.com/dgnsrekt/readers-ear/internal/history"
)

var (
	playAfter     bool
	extractNew    bool
	extractGen    bool
	exportOutFile string
)

var generateCmd = &cobra.Command{
	Use:     "generate [SELECTOR]",
	Aliases: []string{"gen"},
	Short:   "Synthesize speech for an item",
	Long: paragraph(fmt.Sprintf("\n%s speech for an item and keep it in the history. Any previous audio of the item is replaced.",
		keyword("Generate"))),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			it, err := a.selectArg(args)
			if err != nil {
				return err
			}
			if err := generate(cmd, a, it); err != nil {
				return err
			}
			if playAfter {
				return play(cmd, a, it.ID)
			}
			return nil
		})
	},
}

// generate runs synthesis for the active item it and reports the outcome.
func generate(cmd *cobra.Command, a *app, it history.Item) error {
	if strings.TrimSpace(it.Text) == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), faintStyle.Render("Nothing to read."))
		return nil
	}

	if err := a.history.GenerateAudio(cmd.Context()); err != nil {
		log.Error("Generate failed", "id", it.ID, "err", err)
		return errors.New(history.FormatError(err))
	}

	wav, err := audioBytes(a, it.ID)
	if err != nil {
		return err
	}
	format, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return err //nolint:wrapcheck
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Audio ready for %s (%s)\n", shortID(it.ID), format.Duration(len(pcm)).Round(100*time.Millisecond))
	return nil
}

var extractCmd = &cobra.Command{
	Use:   "extract [SELECTOR] IMAGE",
	Short: "Read the text in an image into an item",
	Long: paragraph(fmt.Sprintf("\n%s the text visible in a photo or screenshot and use it as the item's text. The item's audio is discarded.",
		keyword("Transcribe"))),
	Example: paragraph("ear extract page.jpg\near extract --new --generate receipt.png"),
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[len(args)-1]
		image, mimeType, err := readImage(path)
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			var it history.Item
			if extractNew {
				if it, err = a.history.CreateItem(); err != nil {
					return err //nolint:wrapcheck
				}
			} else if it, err = a.selectArg(args[:len(args)-1]); err != nil {
				return err
			}

			if err := a.history.ExtractFromImage(cmd.Context(), image, mimeType); err != nil {
				log.Error("Extract failed", "id", it.ID, "path", path, "err", err)
				return errors.New(history.FormatError(err))
			}

			it, _ = a.history.Find(it.ID)
			fmt.Fprintln(cmd.OutOrStdout(), it.Text)

			if extractGen {
				return generate(cmd, a, it)
			}
			return nil
		})
	},
}

// readImage loads an image file and works out its MIME type from the
// extension, falling back to content sniffing.
func readImage(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("unable to read image: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("%s does not look like an image (%s)", path, mimeType)
	}
	return data, mimeType, nil
}

var playCmd = &cobra.Command{
	Use:   "play [SELECTOR]",
	Short: "Play the audio of an item",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			it, err := a.selectArg(args)
			if err != nil {
				return err
			}
			return play(cmd, a, it.ID)
		})
	},
}

func play(cmd *cobra.Command, a *app, id string) error {
	wav, err := audioBytes(a, id)
	if err != nil {
		return err
	}
	p := audio.NewPlayer(log.Default())
	if err := p.Play(cmd.Context(), wav); err != nil && !errors.Is(err, cmd.Context().Err()) {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

var exportCmd = &cobra.Command{
	Use:   "export [SELECTOR]",
	Short: "Save the audio of an item as a WAV file",
	Long: paragraph(fmt.Sprintf("\n%s the audio of an item to a WAV file. The file is named after the item unless %s is given; use %s for standard output.",
		keyword("Write"), keyword("--output"), keyword("-o -"))),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			it, err := a.selectArg(args)
			if err != nil {
				return err
			}
			wav, err := audioBytes(a, it.ID)
			if err != nil {
				return err
			}

			out := exportOutFile
			switch out {
			case "-":
				_, err := cmd.OutOrStdout().Write(wav)
				return err //nolint:wrapcheck
			case "":
				out = exportName(it)
			}
			if err := renameio.WriteFile(out, wav, 0o644); err != nil {
				return fmt.Errorf("unable to write %s: %w", out, err)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Wrote", out)
			return nil
		})
	},
}

// exportName is the default file name for an item's audio.
func exportName(it history.Item) string {
	return "readers-ear-" + shortID(it.ID) + ".wav"
}

// audioBytes returns the WAV audio of item id from its live handle.
func audioBytes(a *app, id string) ([]byte, error) {
	r, err := a.history.OpenAudio(id)
	if err != nil {
		return nil, fmt.Errorf("%s has no audio, run generate first", shortID(id))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read audio: %w", err)
	}
	return data, nil
}

func init() {
	generateCmd.Flags().BoolVar(&playAfter, "play", false, "play the audio once it is ready")
	extractCmd.Flags().BoolVarP(&extractNew, "new", "n", false, "extract into a new item")
	extractCmd.Flags().BoolVarP(&extractGen, "generate", "g", false, "synthesize speech after extraction")
	exportCmd.Flags().StringVarP(&exportOutFile, "output", "o", "", "output file, - for stdout")
}
