package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/readers-ear/internal/history"
)

var (
	errNoMatch   = errors.New("no item matches")
	errAmbiguous = errors.New("ambiguous item id")
)

// previews adapts a list of items to fuzzy.Source.
type previews []history.Item

func (p previews) String(i int) string { return p[i].Text }
func (p previews) Len() int            { return len(p) }

// resolveItem finds the item named by sel. An empty selector names the
// newest item. Otherwise sel is tried as an exact id, then as an id prefix,
// then fuzzily against the item text.
func resolveItem(items []history.Item, sel string) (history.Item, error) {
	if len(items) == 0 {
		return history.Item{}, errNoMatch
	}
	if sel == "" {
		return items[0], nil
	}

	for _, it := range items {
		if it.ID == sel {
			return it, nil
		}
	}

	var prefixed []history.Item
	for _, it := range items {
		if strings.HasPrefix(it.ID, sel) {
			prefixed = append(prefixed, it)
		}
	}
	switch len(prefixed) {
	case 0:
	case 1:
		return prefixed[0], nil
	default:
		return history.Item{}, fmt.Errorf("%w: %q matches %d items", errAmbiguous, sel, len(prefixed))
	}

	matches := fuzzy.FindFrom(sel, previews(items))
	if len(matches) == 0 {
		return history.Item{}, fmt.Errorf("%w: %q", errNoMatch, sel)
	}
	return items[matches[0].Index], nil
}
