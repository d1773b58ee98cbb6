// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package citation

import "fmt"

// repairSpan validates a support's segment indices and repairs them:
// negatives clamp to zero and the end is raised to the start when inverted.
func repairSpan(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if end < start {
		end = start
	}
	return start, end
}

// BuildCitations constructs Citations from grounding supports.
//
// For each support the segment indices are repaired, then every referenced
// chunk index is resolved to a Source; missing chunks and chunks with empty
// URIs are skipped. Supports that resolve to zero sources, that repair to a
// zero-width span at the origin, or whose end lies beyond textLen produce
// no Citation. The returned citations satisfy
// 0 <= StartIndex <= EndIndex <= textLen.
func BuildCitations(md *GroundingMetadata, textLen int) []Citation {
	if md == nil {
		return nil
	}

	var citations []Citation
	for _, support := range md.Supports {
		start, end := repairSpan(support.StartIndex, support.EndIndex)

		// A span that repairs to (0,0) is indistinguishable from "no
		// citation"; omit it rather than define a sentinel.
		if start == 0 && end == 0 {
			continue
		}
		if end > textLen {
			continue
		}

		segments := resolveSegments(md, support.ChunkIndices)
		if len(segments) == 0 {
			continue
		}

		citations = append(citations, Citation{
			StartIndex: start,
			EndIndex:   end,
			Segments:   segments,
		})
	}
	return citations
}

// resolveSegments maps chunk indices to Sources, skipping indices that are
// out of range or point at chunks with empty URIs.
func resolveSegments(md *GroundingMetadata, chunkIndices []int) []Source {
	var segments []Source
	for _, idx := range chunkIndices {
		if idx < 0 || idx >= len(md.Chunks) {
			continue
		}
		chunk := md.Chunks[idx]
		if chunk.URI == "" {
			continue
		}

		title := chunk.Title
		if title == "" {
			title = fmt.Sprintf("Source %d", idx+1)
		}

		segments = append(segments, Source{
			Title:    title,
			URL:      chunk.URI,
			ShortURL: fmt.Sprintf("grounding-source-%d", idx+1),
			Label:    fmt.Sprintf("Source %d", idx+1),
		})
	}
	return segments
}
