package idrange

import (
	"iter"
	"strconv"
	"strings"
)

// DefaultBaseURL is the post service used when none is configured.
const DefaultBaseURL = "https://danbooru.donmai.us"

// Target is a single request target derived from a post ID.
type Target struct {
	ID  int
	URL string
}

// Batch is a contiguous, ordered slice of targets processed as one unit.
type Batch struct {
	// Index is the zero-based position of the batch within the run.
	Index   int
	Range   Range
	Targets []Target
}

// Len returns the number of targets in the batch.
func (b Batch) Len() int {
	return len(b.Targets)
}

// Generator builds request targets for a post service.
// The zero value targets DefaultBaseURL.
type Generator struct {
	BaseURL string
}

// NewGenerator returns a generator for baseURL with trailing slashes removed.
func NewGenerator(baseURL string) Generator {
	return Generator{BaseURL: strings.TrimRight(baseURL, "/")}
}

// URL returns the record URL for id: {base}/posts/{id}.json.
func (g Generator) URL(id int) string {
	base := g.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return base + "/posts/" + strconv.Itoa(id) + ".json"
}

// Target returns the target for a single id.
func (g Generator) Target(id int) Target {
	return Target{ID: id, URL: g.URL(id)}
}

// Targets lazily yields one target per ID in r. The sequence is pure and
// can be iterated any number of times.
func (g Generator) Targets(r Range) iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for id := range r.IDs() {
			if !yield(g.Target(id)) {
				return
			}
		}
	}
}

// Batches yields r partitioned into batches of at most size targets.
// A size <= 0 yields a single batch covering the whole range.
func (g Generator) Batches(r Range, size int) iter.Seq[Batch] {
	return func(yield func(Batch) bool) {
		index := 0
		for sub := range Split(r, size) {
			targets := make([]Target, 0, sub.Len())
			for t := range g.Targets(sub) {
				targets = append(targets, t)
			}
			if !yield(Batch{Index: index, Range: sub, Targets: targets}) {
				return
			}
			index++
		}
	}
}
