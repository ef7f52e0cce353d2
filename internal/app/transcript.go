package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

// ReadBlocks decodes a JSON array of blocks. Blocks without an id get a
// fresh one; duplicate ids are rejected.
func ReadBlocks(r io.Reader) ([]model.Block, error) {
	var blocks []model.Block
	if err := json.NewDecoder(r).Decode(&blocks); err != nil {
		return nil, fmt.Errorf("decoding blocks: %w", err)
	}
	return assignIDs(blocks)
}

// WriteBlocks encodes blocks as an indented JSON array.
func WriteBlocks(w io.Writer, blocks []model.Block) error {
	if blocks == nil {
		blocks = []model.Block{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(blocks)
}

func assignIDs(blocks []model.Block) ([]model.Block, error) {
	seen := make(map[string]struct{}, len(blocks))
	for i := range blocks {
		if blocks[i].ID == "" {
			blocks[i].ID = uuid.New().String()
		}
		if _, dup := seen[blocks[i].ID]; dup {
			return nil, fmt.Errorf("block %s: %w", blocks[i].ID, scribe.ErrDuplicateBlock)
		}
		seen[blocks[i].ID] = struct{}{}
	}
	return blocks, nil
}

// TranscriptHeader is the descriptive part of a rendered transcript.
type TranscriptHeader struct {
	Title   string
	Date    time.Time
	Version int64
}

// RenderText writes blocks in the plain-text transcript layout:
//
//	=== TRANSCRIPTION BACKUP ===
//	Transcription: <title>
//	Date: <RFC 3339>
//	Version: <n>
//
//	=== SPEAKERS ===
//	S1: Alice
//
//	=== TRANSCRIPT ===
//	00:01:05 [S1]: text
//
//	=== METADATA ===
//	Total Words: <n>
//	Total Blocks: <n>
//	Total Speakers: <n>
func RenderText(w io.Writer, h TranscriptHeader, blocks []model.Block) error {
	var lines []string
	lines = append(lines,
		"=== TRANSCRIPTION BACKUP ===",
		"Transcription: "+h.Title,
		"Date: "+h.Date.UTC().Format(time.RFC3339),
		fmt.Sprintf("Version: %d", h.Version),
		"",
	)

	if speakers := speakerNames(blocks); len(speakers) > 0 {
		lines = append(lines, "=== SPEAKERS ===")
		for _, s := range speakers {
			lines = append(lines, s.ref+": "+s.name)
		}
		lines = append(lines, "")
	}

	lines = append(lines, "=== TRANSCRIPT ===")
	for _, b := range blocks {
		lines = append(lines, transcriptLine(b))
	}
	lines = append(lines,
		"",
		"=== METADATA ===",
		fmt.Sprintf("Total Words: %d", model.WordCount(blocks)),
		fmt.Sprintf("Total Blocks: %d", len(blocks)),
		fmt.Sprintf("Total Speakers: %d", model.SpeakerCount(blocks)),
	)

	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

type speaker struct {
	ref, name string
}

// speakerNames lists every speaker ref with the first display name seen
// for it, ordered by ref.
func speakerNames(blocks []model.Block) []speaker {
	names := make(map[string]string)
	for _, b := range blocks {
		if b.SpeakerRef == "" {
			continue
		}
		if cur, ok := names[b.SpeakerRef]; !ok || cur == "" {
			names[b.SpeakerRef] = b.SpeakerName
		}
	}
	out := make([]speaker, 0, len(names))
	for ref, name := range names {
		if name == "" {
			name = ref
		}
		out = append(out, speaker{ref, name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ref < out[j].ref })
	return out
}

func transcriptLine(b model.Block) string {
	var ts, sp string
	if b.TimeMarker != nil {
		ts = FormatTimestamp(*b.TimeMarker)
	}
	if b.SpeakerRef != "" {
		sp = "[" + b.SpeakerRef + "]"
	}
	if ts == "" && sp == "" {
		return b.Text
	}
	return strings.TrimSpace(ts+" "+sp) + ": " + b.Text
}

// FormatTimestamp renders seconds as HH:MM:SS, rounding down.
func FormatTimestamp(seconds float64) string {
	total := int(math.Floor(seconds))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

var (
	sectionRe = regexp.MustCompile(`^=== (.+) ===$`)
	speakerRe = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
	lineRe    = regexp.MustCompile(`^(?:(\d{2}):(\d{2}):(\d{2}))?\s*(?:\[([^\]]+)\])?: (.*)$`)
)

// ParseText reads a transcript in the RenderText layout back into blocks
// with fresh ids. Lines outside the transcript section only contribute
// speaker names.
func ParseText(r io.Reader) ([]model.Block, error) {
	names := make(map[string]string)
	var blocks []model.Block
	section := ""

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(m[1])
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch section {
		case "speakers":
			if m := speakerRe.FindStringSubmatch(line); m != nil {
				names[strings.TrimSpace(m[1])] = strings.TrimSpace(m[2])
			}
		case "transcript":
			blocks = append(blocks, parseLine(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	for i := range blocks {
		if name, ok := names[blocks[i].SpeakerRef]; ok && name != blocks[i].SpeakerRef {
			blocks[i].SpeakerName = name
		}
	}
	return assignIDs(blocks)
}

func parseLine(line string) model.Block {
	m := lineRe.FindStringSubmatch(line)
	if m == nil || (m[1] == "" && m[4] == "") {
		return model.Block{Text: line}
	}

	b := model.Block{SpeakerRef: m[4], Text: m[5]}
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		s, _ := strconv.Atoi(m[3])
		t := float64(h*3600 + mi*60 + s)
		b.TimeMarker = &t
	}
	return b
}
