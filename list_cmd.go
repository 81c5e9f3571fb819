package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/readers-ear/internal/history"
)

const (
	shortIDLen   = 8
	defaultWidth = 80
	maxWidth     = 120
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the history, newest first",
	Args:    cobra.NoArgs,
	RunE:    listRunE,
}

func listRunE(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return showRunE(cmd, args)
	}
	return withApp(cmd, func(a *app) error {
		renderList(cmd.OutOrStdout(), a.history.Items(), a.history.Active().ID, terminalWidth(), time.Now())
		if msg := a.history.LastError(); msg != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(msg))
		}
		return nil
	})
}

// terminalWidth returns the stdout width, capped, or a default when stdout
// is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd()) //nolint:gosec
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return min(w, maxWidth)
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// renderList writes one line per item: marker, short id, age, audio size and
// the preview cut to fit width.
func renderList(w io.Writer, items []history.Item, activeID string, width int, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, faintStyle.Render("No items."))
		return
	}

	const (
		ageWidth   = 16
		audioWidth = 10
	)

	for _, it := range items {
		marker := "  "
		if it.ID == activeID {
			marker = activeStyle.Render("•") + " "
		}

		age := humanize.RelTime(it.CreatedAt, now, "ago", "from now")

		size := "-"
		if it.HasAudio {
			size = "♪ " + humanize.Bytes(uint64(it.Audio.Size())) //nolint:gosec
		}

		prefix := marker +
			runewidth.FillRight(shortID(it.ID), shortIDLen) + "  " +
			faintStyle.Render(runewidth.FillRight(age, ageWidth)) + "  " +
			audioStyle.Render(runewidth.FillRight(size, audioWidth)) + "  "

		used := 2 + shortIDLen + 2 + ageWidth + 2 + audioWidth + 2
		room := max(width-used, 10)

		preview := strings.ReplaceAll(it.Preview, "\n", " ")
		if preview == "" {
			preview = faintStyle.Render("(empty)")
		} else {
			preview = truncate.StringWithTail(preview, uint(room), "…") //nolint:gosec
		}

		fmt.Fprintln(w, prefix+preview)
	}
}
