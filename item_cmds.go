package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/editor"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/readers-ear/internal/history"
)

var (
	fromClipboard bool
	showPlain     bool
)

var newCmd = &cobra.Command{
	Use:   "new [TEXT...]",
	Short: "Start a new item",
	Long: paragraph(fmt.Sprintf("\n%s a new item at the top of the history. Text is taken from the arguments, the clipboard, or standard input when it is piped.",
		keyword("Create"))),
	Example: paragraph("ear new \"Hello there\"\near new --clipboard\npbpaste | ear new"),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _, err := inputText(cmd, args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			it, err := a.history.CreateItem()
			if err != nil {
				return err //nolint:wrapcheck
			}
			if text != "" {
				if err := a.history.EditText(text); err != nil {
					return err //nolint:wrapcheck
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), it.ID)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit [SELECTOR] [TEXT]",
	Short: "Replace the text of an item",
	Long: paragraph(fmt.Sprintf("\n%s the text of an item. Without text, the clipboard or piped input, the item is opened in EDITOR. Changing the text discards its audio.",
		keyword("Replace"))),
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var textArgs []string
		if len(args) > 1 {
			textArgs = args[1:]
		}
		text, ok, err := inputText(cmd, textArgs)
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			it, err := a.selectArg(args)
			if err != nil {
				return err
			}
			if !ok {
				if text, err = editInEditor(it.Text); err != nil {
					return err
				}
			}
			return a.history.EditText(text) //nolint:wrapcheck
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [SELECTOR]",
	Short: "Print the text of an item",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showRunE,
}

func showRunE(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		it, err := a.selectArg(args)
		if err != nil {
			return err
		}
		if showPlain {
			fmt.Fprintln(cmd.OutOrStdout(), it.Text)
			return nil
		}

		out, err := renderItem(it, terminalWidth())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	})
}

// renderItem formats an item header followed by its text rendered as
// markdown.
func renderItem(it history.Item, width int) (string, error) {
	audio := "no audio"
	if it.HasAudio {
		audio = "audio " + humanize.Bytes(uint64(it.Audio.Size())) //nolint:gosec
	}
	header := headerStyle.Render(shortID(it.ID)) + "  " +
		faintStyle.Render(it.CreatedAt.Format("2006-01-02 15:04")+" · "+humanize.Time(it.CreatedAt)+" · "+audio)

	if strings.TrimSpace(it.Text) == "" {
		return header + "\n\n" + faintStyle.Render("(empty)") + "\n", nil
	}

	style := styles.DarkStyle
	if !lipgloss.HasDarkBackground() {
		style = styles.LightStyle
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("unable to create renderer: %w", err)
	}
	body, err := r.Render(it.Text)
	if err != nil {
		return "", fmt.Errorf("unable to render text: %w", err)
	}
	return header + "\n" + body, nil
}

var rmCmd = &cobra.Command{
	Use:     "rm SELECTOR...",
	Aliases: []string{"delete"},
	Short:   "Delete items and their audio",
	Long: paragraph(fmt.Sprintf("\n%s items from the history. Deleting the last item clears it instead.",
		keyword("Delete"))),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			for _, sel := range args {
				it, err := resolveItem(a.history.Items(), sel)
				if err != nil {
					return err
				}
				if err := a.history.DeleteItem(cmd.Context(), it.ID); err != nil {
					return err //nolint:wrapcheck
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted", shortID(it.ID))
			}
			return nil
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy [SELECTOR]",
	Short: "Copy the text of an item to the clipboard",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			it, err := a.selectArg(args)
			if err != nil {
				return err
			}
			if err := clipboard.WriteAll(it.Text); err != nil {
				return fmt.Errorf("unable to copy to clipboard: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Copied %d characters\n", len([]rune(it.Text)))
			return nil
		})
	},
}

func init() {
	newCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "take the text from the clipboard")
	editCmd.Flags().BoolVarP(&fromClipboard, "clipboard", "c", false, "take the text from the clipboard")
	showCmd.Flags().BoolVarP(&showPlain, "plain", "p", false, "print the raw text")
}

// inputText collects text from args, the clipboard or piped stdin, in that
// order. It reports false when none of them supplied any.
func inputText(cmd *cobra.Command, args []string) (string, bool, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), true, nil
	}
	if fromClipboard {
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", false, fmt.Errorf("unable to read clipboard: %w", err)
		}
		return text, true, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec
		return "", false, nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", false, fmt.Errorf("unable to read input: %w", err)
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return strings.TrimSuffix(string(data), "\n"), true, nil
}

// editInEditor opens text in EDITOR and returns the saved result.
func editInEditor(text string) (string, error) {
	f, err := os.CreateTemp("", "ear-*.txt")
	if err != nil {
		return "", fmt.Errorf("unable to create temp file: %w", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err //nolint:wrapcheck
	}

	c, err := editor.Cmd("Reader's Ear", path)
	if err != nil {
		return "", fmt.Errorf("unable to set editor: %w", err)
	}
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return "", fmt.Errorf("unable to run editor: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Join(errors.New("unable to read edited text"), err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
