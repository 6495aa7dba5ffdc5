// Package deck provides the card deck catalog and draw logic for GameBridge.
//
// A deck is a set of numbered cards; draws sample distinct card numbers
// without replacement within a single call. Randomness is injectable so draws
// can be made deterministic in tests and replays.
package deck

import (
	"errors"
	"math/rand/v2"
	"sort"
)

// Validation errors for deck operations.
var (
	ErrUnknownDeck   = errors.New("unknown deck")
	ErrInvalidCount  = errors.New("draw count must be positive")
	ErrCountTooLarge = errors.New("draw count exceeds deck size")
	ErrEmptyDeck     = errors.New("deck has no cards")
)

// Source supplies randomness for draws. *rand.Rand from math/rand/v2
// satisfies it; tests use a scripted source.
type Source interface {
	IntN(n int) int
}

// systemSource draws from the shared math/rand/v2 generator.
type systemSource struct{}

func (systemSource) IntN(n int) int { return rand.IntN(n) }

// SystemSource returns the default, non-deterministic randomness source.
func SystemSource() Source { return systemSource{} }

// Deck describes one card deck: Size numbered cards, 1..Size.
type Deck struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Contains reports whether the card number is a valid index into the deck.
func (d Deck) Contains(card int) bool {
	return card >= 1 && card <= d.Size
}

// Provider resolves deck names to deck definitions. It is a configuration
// collaborator external to the engine.
type Provider interface {
	Lookup(name string) (Deck, error)
}

// DefaultName is the deck used when a room does not name one.
const DefaultName = "reflection52"

// StaticProvider serves a fixed deck catalog.
type StaticProvider struct {
	decks map[string]Deck
}

// NewStaticProvider returns a provider seeded with the built-in decks.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{decks: map[string]Deck{
		"reflection52": {Name: "reflection52", Size: 52},
		"feelings24":   {Name: "feelings24", Size: 24},
	}}
}

// Register adds or replaces a deck definition.
func (p *StaticProvider) Register(d Deck) error {
	if d.Size < 1 {
		return ErrEmptyDeck
	}
	p.decks[d.Name] = d
	return nil
}

// Lookup returns the deck for the given name. An empty name resolves to the
// default deck.
func (p *StaticProvider) Lookup(name string) (Deck, error) {
	if name == "" {
		name = DefaultName
	}
	d, ok := p.decks[name]
	if !ok {
		return Deck{}, ErrUnknownDeck
	}
	return d, nil
}

// Draw samples count distinct card numbers from the deck without replacement.
// Replacement across calls is allowed: successive draws may repeat cards. The
// result is sorted for stable recording.
func Draw(d Deck, count int, src Source) ([]int, error) {
	if d.Size < 1 {
		return nil, ErrEmptyDeck
	}
	if count < 1 {
		return nil, ErrInvalidCount
	}
	if count > d.Size {
		return nil, ErrCountTooLarge
	}
	if src == nil {
		src = SystemSource()
	}

	// Partial Fisher-Yates over the card numbers.
	cards := make([]int, d.Size)
	for i := range cards {
		cards[i] = i + 1
	}
	for i := 0; i < count; i++ {
		j := i + src.IntN(d.Size-i)
		cards[i], cards[j] = cards[j], cards[i]
	}
	drawn := cards[:count:count]
	sort.Ints(drawn)
	return drawn, nil
}
