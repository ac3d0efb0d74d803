package bot

import (
	"sync"

	"github.com/sahilm/fuzzy"
)

// defaultCollections seeds the suggester with slugs people most often ask
// for, so typos like "boredape" still land somewhere useful.
var defaultCollections = []string{
	"boredapeyachtclub",
	"mutant-ape-yacht-club",
	"cryptopunks",
	"azuki",
	"pudgypenguins",
	"doodles-official",
	"clonex",
	"proof-moonbirds",
	"otherdeed",
	"degods",
	"milady",
	"world-of-women-nft",
	"bored-ape-kennel-club",
	"meebits",
}

// Suggester proposes a known collection slug close to a failed lookup. The
// index starts from the watchlist (or a built-in list) and grows as lookups
// succeed, so slugs users actually ask about become suggestable.
type Suggester struct {
	mu    sync.RWMutex
	slugs []string
	seen  map[string]struct{}
}

// NewSuggester builds a suggester over the given slugs, falling back to a
// built-in list of well-known collections when none are provided.
func NewSuggester(slugs []string) *Suggester {
	if len(slugs) == 0 {
		slugs = defaultCollections
	}
	s := &Suggester{
		slugs: make([]string, 0, len(slugs)),
		seen:  make(map[string]struct{}, len(slugs)),
	}
	for _, slug := range slugs {
		s.add(slug)
	}
	return s
}

// Learn records a slug that resolved successfully so later typos can be
// steered towards it. Safe for concurrent use.
func (s *Suggester) Learn(slug string) {
	if slug == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(slug)
}

func (s *Suggester) add(slug string) {
	if _, ok := s.seen[slug]; ok {
		return
	}
	s.seen[slug] = struct{}{}
	s.slugs = append(s.slugs, slug)
}

// Suggest returns the best fuzzy match for the input, if any. An exact match
// is not suggested back since the lookup for it just failed.
func (s *Suggester) Suggest(input string) (string, bool) {
	if input == "" {
		return "", false
	}
	s.mu.RLock()
	matches := fuzzy.Find(input, s.slugs)
	s.mu.RUnlock()
	if len(matches) == 0 {
		return "", false
	}
	best := matches[0].Str
	if best == input {
		return "", false
	}
	return best, true
}
