// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

// Package citation extracts sources and citations from grounded LLM
// responses and splices inline citation markers into answer text.
//
// Grounding metadata is parsed once into a concrete typed form; everything
// downstream operates on that form without probing optional attributes.
// All citation indices are byte offsets into the UTF-8 answer text.
package citation

import (
	"encoding/json"
	"fmt"
)

// Chunk is one document reference returned by a grounded LLM call.
type Chunk struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Support links a span of the answer text to the chunks that support it.
// StartIndex and EndIndex are byte offsets into the answer.
type Support struct {
	StartIndex   int   `json:"start_index"`
	EndIndex     int   `json:"end_index"`
	ChunkIndices []int `json:"chunk_indices"`
}

// GroundingMetadata is the parsed form of a grounded response's metadata.
type GroundingMetadata struct {
	Chunks   []Chunk   `json:"chunks"`
	Supports []Support `json:"supports"`
}

// IsEmpty reports whether the metadata carries no chunks and no supports.
func (m *GroundingMetadata) IsEmpty() bool {
	return m == nil || (len(m.Chunks) == 0 && len(m.Supports) == 0)
}

// Source is one citable document gathered during research.
// URL is required for any source that reaches finalization; ShortURL is a
// stable opaque handle used in the citation marker stream.
type Source struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Citation ties a span of the final answer to its supporting sources.
type Citation struct {
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	Segments   []Source `json:"segments"`
}

// Wire types for the Gemini groundingMetadata JSON shape.

type wireGroundingMetadata struct {
	GroundingChunks   []wireGroundingChunk   `json:"groundingChunks"`
	GroundingSupports []wireGroundingSupport `json:"groundingSupports"`
}

type wireGroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web"`
}

type wireGroundingSupport struct {
	Segment *struct {
		StartIndex int `json:"startIndex"`
		EndIndex   int `json:"endIndex"`
	} `json:"segment"`
	GroundingChunkIndices []int `json:"groundingChunkIndices"`
}

// ParseGroundingMetadata decodes the provider's groundingMetadata JSON into
// the typed form. A missing or empty payload yields empty metadata, not an
// error; malformed JSON is an error.
func ParseGroundingMetadata(raw json.RawMessage) (*GroundingMetadata, error) {
	md := &GroundingMetadata{}
	if len(raw) == 0 {
		return md, nil
	}

	var wire wireGroundingMetadata
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse grounding metadata: %w", err)
	}

	for _, c := range wire.GroundingChunks {
		chunk := Chunk{}
		if c.Web != nil {
			chunk.URI = c.Web.URI
			chunk.Title = c.Web.Title
		}
		md.Chunks = append(md.Chunks, chunk)
	}

	for _, s := range wire.GroundingSupports {
		support := Support{ChunkIndices: s.GroundingChunkIndices}
		if s.Segment != nil {
			support.StartIndex = s.Segment.StartIndex
			support.EndIndex = s.Segment.EndIndex
		}
		md.Supports = append(md.Supports, support)
	}

	return md, nil
}
