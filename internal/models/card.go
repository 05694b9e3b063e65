// internal/models/card.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CardCategory keys the card payload union.
type CardCategory string

const (
	CategoryVerse     CardCategory = "verse"
	CategoryCharacter CardCategory = "character"
	CategoryEvent     CardCategory = "event"
	CategoryTheme     CardCategory = "theme"
)

// MaxThemeKeywords caps the keyword list on a theme card.
const MaxThemeKeywords = 8

// ErrInvalidCard is wrapped by every card validation failure.
var ErrInvalidCard = errors.New("invalid card")

// Payload is one variant of the card union. Each variant only carries the
// fields its category needs.
type Payload interface {
	Category() CardCategory
	Validate() error
}

// VerseCard cites a scripture passage.
type VerseCard struct {
	Reference string `json:"reference"`
	Text      string `json:"text,omitempty"`
}

func (VerseCard) Category() CardCategory { return CategoryVerse }

func (c VerseCard) Validate() error {
	if strings.TrimSpace(c.Reference) == "" {
		return fmt.Errorf("%w: verse reference is required", ErrInvalidCard)
	}
	return nil
}

// CharacterCard names a person from the text.
type CharacterCard struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

func (CharacterCard) Category() CardCategory { return CategoryCharacter }

func (c CharacterCard) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: character name is required", ErrInvalidCard)
	}
	return nil
}

// EventCard refers to a narrative event.
type EventCard struct {
	Title string `json:"title"`
	Book  string `json:"book,omitempty"`
}

func (EventCard) Category() CardCategory { return CategoryEvent }

func (c EventCard) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: event title is required", ErrInvalidCard)
	}
	return nil
}

// ThemeCard names a theme with optional supporting keywords.
type ThemeCard struct {
	Theme    string   `json:"theme"`
	Keywords []string `json:"keywords,omitempty"`
}

func (ThemeCard) Category() CardCategory { return CategoryTheme }

func (c ThemeCard) Validate() error {
	if strings.TrimSpace(c.Theme) == "" {
		return fmt.Errorf("%w: theme is required", ErrInvalidCard)
	}
	if len(c.Keywords) > MaxThemeKeywords {
		return fmt.Errorf("%w: at most %d keywords", ErrInvalidCard, MaxThemeKeywords)
	}
	return nil
}

// Card carries a single Payload variant. On the wire it is an envelope with a
// category tag and one body field named after the category.
type Card struct {
	Payload Payload
}

// NewCard wraps a payload.
func NewCard(p Payload) Card { return Card{Payload: p} }

// Validate checks the card has a payload and that the payload is well formed.
func (c Card) Validate() error {
	if c.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalidCard)
	}
	return c.Payload.Validate()
}

type cardEnvelope struct {
	Category  CardCategory   `json:"category"`
	Verse     *VerseCard     `json:"verse,omitempty"`
	Character *CharacterCard `json:"character,omitempty"`
	Event     *EventCard     `json:"event,omitempty"`
	Theme     *ThemeCard     `json:"theme,omitempty"`
}

func (c Card) MarshalJSON() ([]byte, error) {
	var env cardEnvelope
	switch p := c.Payload.(type) {
	case nil:
		return []byte("null"), nil
	case VerseCard:
		env = cardEnvelope{Category: CategoryVerse, Verse: &p}
	case CharacterCard:
		env = cardEnvelope{Category: CategoryCharacter, Character: &p}
	case EventCard:
		env = cardEnvelope{Category: CategoryEvent, Event: &p}
	case ThemeCard:
		env = cardEnvelope{Category: CategoryTheme, Theme: &p}
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidCard, c.Payload)
	}
	return json.Marshal(env)
}

func (c *Card) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		c.Payload = nil
		return nil
	}
	var env cardEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	switch env.Category {
	case CategoryVerse:
		if env.Verse == nil {
			return fmt.Errorf("%w: verse body missing", ErrInvalidCard)
		}
		c.Payload = *env.Verse
	case CategoryCharacter:
		if env.Character == nil {
			return fmt.Errorf("%w: character body missing", ErrInvalidCard)
		}
		c.Payload = *env.Character
	case CategoryEvent:
		if env.Event == nil {
			return fmt.Errorf("%w: event body missing", ErrInvalidCard)
		}
		c.Payload = *env.Event
	case CategoryTheme:
		if env.Theme == nil {
			return fmt.Errorf("%w: theme body missing", ErrInvalidCard)
		}
		c.Payload = *env.Theme
	default:
		return fmt.Errorf("%w: unknown category %q", ErrInvalidCard, env.Category)
	}
	return nil
}

// Describe renders the card as a single line for prompts and logs.
func (c Card) Describe() string {
	switch p := c.Payload.(type) {
	case VerseCard:
		if p.Text != "" {
			return fmt.Sprintf("verse %s: %q", p.Reference, p.Text)
		}
		return "verse " + p.Reference
	case CharacterCard:
		if p.Role != "" {
			return fmt.Sprintf("character %s (%s)", p.Name, p.Role)
		}
		return "character " + p.Name
	case EventCard:
		if p.Book != "" {
			return fmt.Sprintf("event %s in %s", p.Title, p.Book)
		}
		return "event " + p.Title
	case ThemeCard:
		if len(p.Keywords) > 0 {
			return fmt.Sprintf("theme %s [%s]", p.Theme, strings.Join(p.Keywords, ", "))
		}
		return "theme " + p.Theme
	}
	return "empty card"
}
