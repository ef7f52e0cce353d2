package model

import (
	"fmt"
	"strings"
)

// ChangeCounts tallies a set of block changes by operation.
type ChangeCounts struct {
	Added    int
	Modified int
	Deleted  int
}

// CountChanges tallies changes by operation.
func CountChanges(changes []BlockChange) ChangeCounts {
	var c ChangeCounts
	for _, ch := range changes {
		switch ch.Operation {
		case OpCreate:
			c.Added++
		case OpUpdate:
			c.Modified++
		case OpDelete:
			c.Deleted++
		}
	}
	return c
}

// Total returns the number of counted changes.
func (c ChangeCounts) Total() int {
	return c.Added + c.Modified + c.Deleted
}

// String renders a short human summary such as "2 added, 1 deleted".
func (c ChangeCounts) String() string {
	var parts []string
	if c.Added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", c.Added))
	}
	if c.Modified > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", c.Modified))
	}
	if c.Deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", c.Deleted))
	}
	if len(parts) == 0 {
		return "No changes"
	}
	return strings.Join(parts, ", ")
}

// WordCount returns the number of whitespace-separated words across blocks.
func WordCount(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += len(strings.Fields(b.Text))
	}
	return n
}

// SpeakerCount returns the number of distinct speaker refs across blocks.
func SpeakerCount(blocks []Block) int {
	seen := make(map[string]struct{})
	for _, b := range blocks {
		if b.SpeakerRef != "" {
			seen[b.SpeakerRef] = struct{}{}
		}
	}
	return len(seen)
}
