/*
 *
 * inspectd - a debugging broker for JavaScript runtime inspectors
 * Copyright (C) 2026 The inspectd Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package sourcemaps

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-sourcemap/sourcemap"
)

// Map is one parsed v3 source map. All query positions use 1-based lines and
// 0-based columns, on both the generated and the original side.
type Map struct {
	url      string // resolved source-map URL, empty for the inline form
	sources  []string
	contents map[string]string
	segments []segment            // sorted by generated position
	bySource map[string][]segment // sorted by original position
}

// segment is one decoded mapping. Lines are 1-based, columns 0-based.
type segment struct {
	genLine, genCol   int
	source            string
	origLine, origCol int
	name              string
}

type mapFile struct {
	Version        int       `json:"version"`
	Sources        []string  `json:"sources"`
	SourceRoot     string    `json:"sourceRoot"`
	SourcesContent []*string `json:"sourcesContent"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// parseMap decodes a v3 source map. The raw bytes are first run through the
// go-sourcemap consumer, which rejects anything structurally invalid; the
// queries are then served from our own decoded mappings so that both
// directions share one position convention.
func parseMap(resolvedURL string, data []byte) (*Map, error) {
	if _, err := sourcemap.Parse("", data); err != nil {
		return nil, err
	}

	var mf mapFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}

	sources := make([]string, len(mf.Sources))
	for i, src := range mf.Sources {
		sources[i] = joinSourceRoot(mf.SourceRoot, src)
	}

	contents := make(map[string]string)
	for i, src := range sources {
		if i < len(mf.SourcesContent) && mf.SourcesContent[i] != nil {
			contents[src] = *mf.SourcesContent[i]
		}
	}

	segments, err := decodeMappings(mf.Mappings, sources, mf.Names)
	if err != nil {
		return nil, err
	}

	bySource := make(map[string][]segment)
	for _, seg := range segments {
		if seg.source != "" {
			bySource[seg.source] = append(bySource[seg.source], seg)
		}
	}
	for _, segs := range bySource {
		sort.Slice(segs, func(i, j int) bool {
			if segs[i].origLine != segs[j].origLine {
				return segs[i].origLine < segs[j].origLine
			}
			return segs[i].origCol < segs[j].origCol
		})
	}

	return &Map{
		url:      resolvedURL,
		sources:  sources,
		contents: contents,
		segments: segments,
		bySource: bySource,
	}, nil
}

func joinSourceRoot(root, src string) string {
	if root == "" {
		return src
	}
	if i := strings.Index(root, "://"); i >= 0 {
		return strings.TrimSuffix(root, "/") + "/" + src
	}
	return path.Join(root, src)
}

// URL returns the resolved source-map URL; empty for inline maps.
func (m *Map) URL() string { return m.url }

// Sources returns the original source paths declared by the map.
func (m *Map) Sources() []string { return m.sources }

// SourceContent returns the embedded content of an original source, if the
// map carries it.
func (m *Map) SourceContent(source string) (string, bool) {
	c, ok := m.contents[source]
	return c, ok
}

// OriginalPosition projects a generated position onto the original source.
func (m *Map) OriginalPosition(genLine, genCol int) (source, name string, line, col int, ok bool) {
	// Greatest segment at or before the queried column on the same
	// generated line.
	i := sort.Search(len(m.segments), func(i int) bool {
		s := m.segments[i]
		if s.genLine != genLine {
			return s.genLine > genLine
		}
		return s.genCol > genCol
	})
	if i == 0 {
		return "", "", 0, 0, false
	}
	seg := m.segments[i-1]
	if seg.genLine != genLine || seg.source == "" {
		return "", "", 0, 0, false
	}
	return seg.source, seg.name, seg.origLine, seg.origCol, true
}

// GeneratedPosition projects an original position back onto the generated
// code. It only matches mappings on the queried original line: the nearest
// mapping at or after the column, else the nearest before it.
func (m *Map) GeneratedPosition(source string, line, col int) (genLine, genCol int, ok bool) {
	segs := m.bySource[source]
	i := sort.Search(len(segs), func(i int) bool {
		s := segs[i]
		if s.origLine != line {
			return s.origLine > line
		}
		return s.origCol >= col
	})
	if i < len(segs) && segs[i].origLine == line {
		return segs[i].genLine, segs[i].genCol, true
	}
	if i > 0 && segs[i-1].origLine == line {
		return segs[i-1].genLine, segs[i-1].genCol, true
	}
	return 0, 0, false
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [256]int {
	var idx [256]int
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base64Alphabet); i++ {
		idx[base64Alphabet[i]] = i
	}
	return idx
}()

// decodeMappings expands the VLQ "mappings" field. Decoded lines are stored
// 1-based, columns 0-based.
func decodeMappings(mappings string, sources, names []string) ([]segment, error) {
	var (
		segments                             []segment
		genLine                              = 1
		genCol, srcIdx, origLine, origCol, n int
	)

	for _, lineStr := range strings.Split(mappings, ";") {
		genCol = 0
		for _, segStr := range strings.Split(lineStr, ",") {
			if segStr == "" {
				continue
			}
			fields, err := decodeVLQFields(segStr)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", genLine, err)
			}
			genCol += fields[0]
			seg := segment{genLine: genLine, genCol: genCol}
			if len(fields) >= 4 {
				srcIdx += fields[1]
				origLine += fields[2]
				origCol += fields[3]
				if srcIdx < 0 || srcIdx >= len(sources) {
					return nil, fmt.Errorf("line %d: source index %d out of range", genLine, srcIdx)
				}
				seg.source = sources[srcIdx]
				seg.origLine = origLine + 1
				seg.origCol = origCol
				if len(fields) >= 5 {
					n += fields[4]
					if n >= 0 && n < len(names) {
						seg.name = names[n]
					}
				}
			}
			segments = append(segments, seg)
		}
		genLine++
	}
	return segments, nil
}

// decodeVLQFields decodes one comma-separated segment of base64 VLQ values.
func decodeVLQFields(s string) ([]int, error) {
	var fields []int
	for i := 0; i < len(s); {
		value, shift := 0, 0
		for {
			if i >= len(s) {
				return nil, errors.New("truncated VLQ sequence")
			}
			d := base64Index[s[i]]
			if d < 0 {
				return nil, fmt.Errorf("invalid VLQ character %q", s[i])
			}
			i++
			value |= (d & 0x1f) << shift
			if d&0x20 == 0 {
				break
			}
			shift += 5
		}
		if value&1 == 1 {
			fields = append(fields, -(value >> 1))
		} else {
			fields = append(fields, value>>1)
		}
	}
	return fields, nil
}
