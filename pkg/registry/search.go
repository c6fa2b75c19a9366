// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"regexp"
	"sort"
	"strings"

	"github.com/labiium/skills/pkg/errors"
)

// Mode is the closed set of search query modes (spec.md §4.3).
type Mode string

const (
	ModeLiteral Mode = "literal"
	ModeRegex   Mode = "regex"
	ModeFuzzy   Mode = "fuzzy"
)

// Query describes one search request against the registry.
type Query struct {
	Text  string
	Mode  Mode
	Tags  []string // all must be present
	Kind  Kind     // "" means any
	Limit int      // <= 0 means defaultLimit (20)
}

// Hit pairs a descriptor with its relevance score, higher is better.
type Hit struct {
	Descriptor *Descriptor
	Score      float64
}

const defaultLimit = 20
const maxLimit = 50 // spec.md §4.3: search's limit is fixed at [1,50]

// Search runs q against the given descriptors (typically Registry.Snapshot())
// and returns hits ordered by descending score, then ascending FQN for a
// deterministic tie-break (spec.md §4.3 "search is not guaranteed stable
// across calls, but ties always resolve in favor of the lexicographically
// smaller FQN").
func Search(descriptors []*Descriptor, q Query) ([]Hit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	mode := q.Mode
	if mode == "" {
		mode = ModeLiteral
	}

	var matcher func(d *Descriptor) (float64, bool)
	switch mode {
	case ModeLiteral:
		matcher = literalMatcher(q.Text)
	case ModeRegex:
		re, err := regexp.Compile(q.Text)
		if err != nil {
			return nil, errors.New(errors.BadQuery, "registry: invalid regex", err).
				WithContext("query", q.Text)
		}
		matcher = regexMatcher(re)
	case ModeFuzzy:
		matcher = fuzzyMatcher(q.Text)
	default:
		return nil, errors.New(errors.BadQuery, "registry: unknown search mode", nil).
			WithContext("mode", string(mode))
	}

	tagSet := make(map[string]bool, len(q.Tags))
	for _, t := range q.Tags {
		tagSet[strings.ToLower(t)] = true
	}

	hits := make([]Hit, 0, len(descriptors))
	for _, d := range descriptors {
		if q.Kind != "" && d.Kind != q.Kind {
			continue
		}
		if !hasAllTags(d.Tags, tagSet) {
			continue
		}
		score, ok := matcher(d)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Descriptor: d, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Descriptor.FQN < hits[j].Descriptor.FQN
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func hasAllTags(have []string, want map[string]bool) bool {
	if len(want) == 0 {
		return true
	}
	present := make(map[string]bool, len(have))
	for _, t := range have {
		present[strings.ToLower(t)] = true
	}
	for t := range want {
		if !present[t] {
			return false
		}
	}
	return true
}

func literalMatcher(text string) func(*Descriptor) (float64, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	return func(d *Descriptor) (float64, bool) {
		if needle == "" {
			return 1, true
		}
		name := strings.ToLower(d.Name)
		fqn := strings.ToLower(d.FQN)
		desc := strings.ToLower(d.Description)
		switch {
		case name == needle:
			return 3, true
		case strings.Contains(fqn, needle):
			return 2, true
		case strings.Contains(desc, needle):
			return 1, true
		default:
			return 0, false
		}
	}
}

func regexMatcher(re *regexp.Regexp) func(*Descriptor) (float64, bool) {
	return func(d *Descriptor) (float64, bool) {
		if re.MatchString(d.FQN) {
			return 2, true
		}
		if re.MatchString(d.Description) {
			return 1, true
		}
		return 0, false
	}
}

// fuzzyMatcher scores by Levenshtein distance against the whole
// callable name, normalized to [0,1]. No ecosystem fuzzy-matching
// library appears anywhere in the retrieved example corpus, so this one
// narrow primitive is hand-rolled against the standard library
// (documented in DESIGN.md); the surrounding search plumbing above
// still follows the corpus's own query/scoring conventions.
func fuzzyMatcher(text string) func(*Descriptor) (float64, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	return func(d *Descriptor) (float64, bool) {
		if needle == "" {
			return 1, true
		}
		name := strings.ToLower(d.Name)
		dist := levenshtein(needle, name)
		maxLen := len(needle)
		if len(name) > maxLen {
			maxLen = len(name)
		}
		if maxLen == 0 {
			return 0, false
		}
		similarity := 1 - float64(dist)/float64(maxLen)
		if similarity <= 0.4 {
			return 0, false
		}
		return similarity, true
	}
}

// levenshtein computes the edit distance between a and b using a
// two-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minOf3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minOf3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
