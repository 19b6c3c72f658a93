// Package character holds character profiles and their persistence.
//
// A [Character] is the full declarative profile of a roleplay persona:
// identity, presentation, vocal style, personality, motivation, interaction
// style, signature phrases and boundaries. Two fields are derived by
// ingestion rather than authored: FullBio and CorePersona.
//
// Profiles are stored through the [Store] interface. [PostgresStore] keeps
// the authored profile in a JSONB column, [SQLiteStore] does the same in a
// single-file database, and [MemStore] serves tests and offline use.
package character

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by lookups that require an existing character.
var ErrNotFound = errors.New("character: not found")

// Character is a roleplay persona profile.
type Character struct {
	ID      string `yaml:"id" json:"id"`
	OwnerID string `yaml:"owner_id" json:"owner_id"`

	Name           string `yaml:"name" json:"name"`
	Archetype      string `yaml:"archetype" json:"archetype"`
	Role           string `yaml:"role" json:"role"`
	SourceMaterial string `yaml:"source_material" json:"source_material"`

	Appearance  Appearance  `yaml:"appearance" json:"appearance"`
	Voice       VoiceStyle  `yaml:"voice" json:"voice"`
	Personality Personality `yaml:"personality" json:"personality"`

	// Motivation is free text about what drives the character.
	Motivation string   `yaml:"motivation" json:"motivation"`
	Goals      []string `yaml:"goals" json:"goals"`

	InteractionStyle string           `yaml:"interaction_style" json:"interaction_style"`
	Phrases          SignaturePhrases `yaml:"phrases" json:"phrases"`
	Boundaries       Boundaries       `yaml:"boundaries" json:"boundaries"`

	// FullBio is rendered by ingestion from the fields above.
	FullBio string `yaml:"-" json:"full_bio,omitempty"`

	// CorePersona is the condensed persona summary written by ingestion.
	CorePersona string `yaml:"-" json:"core_persona,omitempty"`

	CreatedAt time.Time `yaml:"-" json:"created_at"`
	UpdatedAt time.Time `yaml:"-" json:"updated_at"`
}

// Appearance describes how the character looks.
type Appearance struct {
	Description string   `yaml:"description" json:"description"`
	Attire      string   `yaml:"attire" json:"attire"`
	Features    string   `yaml:"features" json:"features"`
	ColorTags   []string `yaml:"color_tags" json:"color_tags"`
}

// VoiceStyle describes how the character speaks.
type VoiceStyle struct {
	Tones      []string `yaml:"tones" json:"tones"`
	Pacing     string   `yaml:"pacing" json:"pacing"`
	Inflection string   `yaml:"inflection" json:"inflection"`
	Vocabulary string   `yaml:"vocabulary" json:"vocabulary"`
}

// Personality lists trait tags and quirks.
type Personality struct {
	Primary               []string `yaml:"primary" json:"primary"`
	Secondary             []string `yaml:"secondary" json:"secondary"`
	Quirks                []string `yaml:"quirks" json:"quirks"`
	InterruptionTolerance string   `yaml:"interruption_tolerance" json:"interruption_tolerance"`
}

// SignaturePhrases are lines the character is known for.
type SignaturePhrases struct {
	Greeting    string `yaml:"greeting" json:"greeting"`
	Affirmation string `yaml:"affirmation" json:"affirmation"`
	Comfort     string `yaml:"comfort" json:"comfort"`
}

// Boundaries restrict what the character will engage with.
type Boundaries struct {
	ForbiddenTopics   []string `yaml:"forbidden_topics" json:"forbidden_topics"`
	InteractionPolicy string   `yaml:"interaction_policy" json:"interaction_policy"`
}

var validTolerance = map[string]struct{}{
	"": {}, "low": {}, "medium": {}, "high": {},
}

// Validate checks the profile and returns every violation joined, or nil.
func (c *Character) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("character: name must not be empty"))
	}
	if len(c.Name) > 100 {
		errs = append(errs, fmt.Errorf("character: name must be at most 100 characters, got %d", len(c.Name)))
	}
	if _, ok := validTolerance[c.Personality.InterruptionTolerance]; !ok {
		errs = append(errs, fmt.Errorf("character: interruption_tolerance must be low, medium or high, got %q", c.Personality.InterruptionTolerance))
	}
	for i, tag := range c.Personality.Primary {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Errorf("character: personality.primary[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// PrimaryTrait returns the first primary trait, or "" when none is set.
func (c *Character) PrimaryTrait() string {
	if len(c.Personality.Primary) == 0 {
		return ""
	}
	return c.Personality.Primary[0]
}

// PrimaryTone returns the first tone tag, or "" when none is set.
func (c *Character) PrimaryTone() string {
	if len(c.Voice.Tones) == 0 {
		return ""
	}
	return c.Voice.Tones[0]
}

// AllTraits returns primary traits followed by secondary traits.
func (c *Character) AllTraits() []string {
	out := make([]string, 0, len(c.Personality.Primary)+len(c.Personality.Secondary))
	out = append(out, c.Personality.Primary...)
	return append(out, c.Personality.Secondary...)
}

// Clone returns a deep copy of c.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Appearance.ColorTags = cloneStrings(c.Appearance.ColorTags)
	cp.Voice.Tones = cloneStrings(c.Voice.Tones)
	cp.Personality.Primary = cloneStrings(c.Personality.Primary)
	cp.Personality.Secondary = cloneStrings(c.Personality.Secondary)
	cp.Personality.Quirks = cloneStrings(c.Personality.Quirks)
	cp.Goals = cloneStrings(c.Goals)
	cp.Boundaries.ForbiddenTopics = cloneStrings(c.Boundaries.ForbiddenTopics)
	return &cp
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
