// Package diagram finds PlantUML blocks in generated text.
package diagram

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	StartMarker = "@startuml"
	EndMarker   = "@enduml"

	// MinBlockLength is the shortest trimmed block that is worth rendering.
	MinBlockLength = 10
)

var ErrBlockNotFound = errors.New("diagram block not found")

// blockPattern matches from an open marker to the nearest close marker.
// (?s) lets the body span lines.
var blockPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(StartMarker) + `.*?` + regexp.QuoteMeta(EndMarker))

// Block is one delimited diagram found in a text.
type Block struct {
	// Raw is the exact substring, markers included.
	Raw string `json:"raw"`

	// Index is the position among the valid blocks of the text, from 0.
	Index int `json:"index"`

	// Start and End are byte offsets of Raw in the text.
	Start int `json:"start"`
	End   int `json:"end"`
}

// Extract returns the complete blocks of text in order of appearance. An
// open marker without a close marker yields nothing, so text that is still
// streaming only ever exposes finished diagrams.
func Extract(text string) []Block {
	locs := blockPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	blocks := make([]Block, 0, len(locs))
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		if len(strings.TrimSpace(raw)) < MinBlockLength {
			continue
		}
		blocks = append(blocks, Block{
			Raw:   raw,
			Index: len(blocks),
			Start: loc[0],
			End:   loc[1],
		})
	}
	return blocks
}

// Replace swaps the index-th block of text for source and returns the new
// text. Indexes are the ones Extract assigns.
func Replace(text string, index int, source string) (string, error) {
	blocks := Extract(text)
	if index < 0 || index >= len(blocks) {
		return "", fmt.Errorf("%w: index %d of %d", ErrBlockNotFound, index, len(blocks))
	}
	b := blocks[index]
	return text[:b.Start] + source + text[b.End:], nil
}
