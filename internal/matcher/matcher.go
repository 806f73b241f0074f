// Package matcher resolves a local student identifier (matricule) against the
// identifiers reported by external terminals.
package matcher

import (
	"sort"
	"strings"
)

// PadWidth is the width external systems commonly zero-pad identifiers to.
const PadWidth = 6

// Strategy names recorded on every match.
const (
	StrategyExact            = "exact"
	StrategyStripZeros       = "strip_zeros"
	StrategyPadZeros         = "pad_zeros"
	StrategySubstring        = "substring"
	StrategyReverseSubstring = "reverse_substring"
)

// Result is a successful match and the strategy that produced it.
type Result struct {
	Identifier string
	Strategy   string
}

// Candidates is the set of externally reported identifiers, kept sorted so
// fuzzy strategies resolve ties deterministically.
type Candidates struct {
	set    map[string]struct{}
	sorted []string
}

// NewCandidates builds a candidate set; blank identifiers are dropped.
func NewCandidates(ids ...string) *Candidates {
	c := &Candidates{set: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := c.set[id]; ok {
			continue
		}
		c.set[id] = struct{}{}
		c.sorted = append(c.sorted, id)
	}
	sort.Strings(c.sorted)
	return c
}

// Has reports exact membership.
func (c *Candidates) Has(id string) bool {
	_, ok := c.set[id]
	return ok
}

// Len returns the number of distinct candidates.
func (c *Candidates) Len() int { return len(c.sorted) }

// Strategy tries to resolve local against candidates.
type Strategy struct {
	Name string
	Try  func(local string, c *Candidates) (string, bool)
}

// Cascade is the fixed order, most specific first.
var Cascade = []Strategy{
	{StrategyExact, exact},
	{StrategyStripZeros, stripZeros},
	{StrategyPadZeros, padZeros},
	{StrategySubstring, substring},
	{StrategyReverseSubstring, reverseSubstring},
}

// Match runs the default cascade.
func Match(local string, c *Candidates) (Result, bool) {
	return Run(Cascade, local, c)
}

// Run folds over strategies and returns the first hit.
func Run(strategies []Strategy, local string, c *Candidates) (Result, bool) {
	local = strings.TrimSpace(local)
	if local == "" || c == nil || c.Len() == 0 {
		return Result{}, false
	}
	for _, s := range strategies {
		if id, ok := s.Try(local, c); ok {
			return Result{Identifier: id, Strategy: s.Name}, true
		}
	}
	return Result{}, false
}

func exact(local string, c *Candidates) (string, bool) {
	return local, c.Has(local)
}

func stripZeros(local string, c *Candidates) (string, bool) {
	stripped := strings.TrimLeft(local, "0")
	if stripped == "" {
		return "", false
	}
	return stripped, c.Has(stripped)
}

func padZeros(local string, c *Candidates) (string, bool) {
	if len(local) >= PadWidth {
		return "", false
	}
	padded := strings.Repeat("0", PadWidth-len(local)) + local
	return padded, c.Has(padded)
}

// substring picks the shortest candidate containing local; ties go to the
// lexically smallest.
func substring(local string, c *Candidates) (string, bool) {
	best := ""
	for _, id := range c.sorted {
		if strings.Contains(id, local) && (best == "" || len(id) < len(best)) {
			best = id
		}
	}
	return best, best != ""
}

// reverseSubstring picks the longest candidate contained in local; ties go to
// the lexically smallest.
func reverseSubstring(local string, c *Candidates) (string, bool) {
	best := ""
	for _, id := range c.sorted {
		if strings.Contains(local, id) && len(id) > len(best) {
			best = id
		}
	}
	return best, best != ""
}
