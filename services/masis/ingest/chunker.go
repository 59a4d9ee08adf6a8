// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest turns uploaded documents into searchable evidence: it
// splits text into chunks, embeds the chunks in batches, and upserts the
// vectors into the evidence corpus while tracking per-document progress.
//
// The package also owns the two background maintenance loops around
// ingestion: a sweeper that fails documents stuck in PROCESSING, and an
// optional drop-folder watcher that ingests files copied into a directory.
package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	chunkSize    = 1000
	chunkOverlap = chunkSize / 10
)

// Separator sets per file family. Code and markdown files split at
// structural boundaries first so a chunk tends to hold a whole function or
// section instead of an arbitrary window.
var (
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
	pythonSeparators  = []string{"\nclass ", "\ndef ", "\n\t", "\n", " ", ""}
	cStyleSeparators  = []string{
		"\nfunction ", "\nclass ", "\ninterface ",
		"\npublic ", "\nprivate ", "\nprotected ",
		"\nfunc", "\ntype",
		"\n\n", "\n", " ", "",
	}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// SplitterForFile returns a recursive character splitter tuned to the file
// type, falling back to plain-text separators for unknown extensions.
func SplitterForFile(fileName string) textsplitter.TextSplitter {
	switch filepath.Ext(fileName) {
	case ".md", ".markdown":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	case ".py":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(pythonSeparators),
		)
	case ".js", ".ts", ".java", ".c", ".cpp", ".h", ".hpp", ".rs", ".go":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(cStyleSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}

// SplitDocument splits raw upload bytes into chunks using the splitter for
// fileName. Whitespace-only chunks are dropped; an empty document yields
// zero chunks and no error.
func SplitDocument(fileName string, data []byte) ([]string, error) {
	text := strings.ToValidUTF8(string(data), "")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	chunks, err := SplitterForFile(fileName).SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", fileName, err)
	}

	out := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	return out, nil
}
