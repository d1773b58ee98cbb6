// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package citation

import "fmt"

// ExtractSources returns one Source per grounding chunk with a non-empty
// URI. ShortURL encodes the chunk's ordinal position and Label is a
// human-readable ordinal; a missing title falls back to "Source {n+1}".
//
// This is a pure function of the metadata: repeated calls return equal
// lists.
func ExtractSources(md *GroundingMetadata) []Source {
	if md == nil {
		return nil
	}

	var sources []Source
	for i, chunk := range md.Chunks {
		if chunk.URI == "" {
			continue
		}

		title := chunk.Title
		if title == "" {
			title = fmt.Sprintf("Source %d", i+1)
		}

		sources = append(sources, Source{
			Title:    title,
			URL:      chunk.URI,
			ShortURL: fmt.Sprintf("grounding-source-%d", i+1),
			Label:    fmt.Sprintf("Source %d", i+1),
		})
	}
	return sources
}
