// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package citation

import (
	"fmt"
	"sort"
	"strings"
)

// InsertCitationMarkers splices inline " [n](url)" markers into text at
// each support's end offset.
//
// Supports are processed in descending EndIndex order (stable tie-break by
// original position) so earlier insertions never shift later positions.
// Supports whose end falls outside [0, len(text)], or whose chunk list
// resolves to zero URLs, are skipped. A marker already present at the
// support's end offset is not inserted again, so re-running with the same
// metadata is a no-op; two supports citing the same chunks at different
// offsets each get their own marker. Empty metadata returns the text
// unchanged.
func InsertCitationMarkers(text string, md *GroundingMetadata) string {
	if md.IsEmpty() {
		return text
	}

	// Stable sort by descending end offset.
	order := make([]int, len(md.Supports))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return md.Supports[order[a]].EndIndex > md.Supports[order[b]].EndIndex
	})

	for _, idx := range order {
		support := md.Supports[idx]
		end := support.EndIndex
		if end < 0 || end > len(text) {
			continue
		}

		marker := buildMarker(md, support.ChunkIndices)
		if marker == "" {
			continue
		}
		if strings.HasPrefix(text[end:], marker) {
			continue
		}

		text = text[:end] + marker + text[end:]
	}
	return text
}

// buildMarker renders the " [n₁](url₁), [n₂](url₂)" marker string for a
// support, or "" when no chunk index resolves to a URL.
func buildMarker(md *GroundingMetadata, chunkIndices []int) string {
	var parts []string
	for _, idx := range chunkIndices {
		if idx < 0 || idx >= len(md.Chunks) {
			continue
		}
		uri := md.Chunks[idx].URI
		if uri == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%d](%s)", idx+1, uri))
	}
	if len(parts) == 0 {
		return ""
	}
	return " " + strings.Join(parts, ", ")
}
