package prompt

import (
	"strings"
	"time"
)

// Template defaults.
const (
	DefaultUserName      = "User"
	DefaultLocation      = "somewhere nearby"
	DefaultCharacterName = "the character"
)

// SessionContext supplies values for template placeholders.
type SessionContext struct {
	UserName      string
	CharacterName string
	Location      string

	// TimeOfDay overrides the clock-derived value when set.
	TimeOfDay string

	// Now is the clock used for TimeOfDay. Zero means time.Now.
	Now time.Time
}

// WithDefaults returns sc with every empty field filled in.
func (sc SessionContext) WithDefaults() SessionContext {
	if strings.TrimSpace(sc.UserName) == "" {
		sc.UserName = DefaultUserName
	}
	if strings.TrimSpace(sc.CharacterName) == "" {
		sc.CharacterName = DefaultCharacterName
	}
	if strings.TrimSpace(sc.Location) == "" {
		sc.Location = DefaultLocation
	}
	if sc.Now.IsZero() {
		sc.Now = time.Now()
	}
	if strings.TrimSpace(sc.TimeOfDay) == "" {
		sc.TimeOfDay = TimeOfDay(sc.Now)
	}
	return sc
}

// TimeOfDay buckets the hour of t into morning, afternoon, evening or night.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

// ApplyTemplate substitutes {{user}}, {{char}}, {{character_name}},
// {{location}} and {{time_of_day}} in text. Placeholders are matched without
// regard to case.
func ApplyTemplate(text string, sc SessionContext) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	sc = sc.WithDefaults()
	values := map[string]string{
		"user":           sc.UserName,
		"char":           sc.CharacterName,
		"character_name": sc.CharacterName,
		"location":       sc.Location,
		"time_of_day":    sc.TimeOfDay,
	}

	var sb strings.Builder
	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(text[open:], "}}")
		if end < 0 {
			break
		}
		end += open
		key := strings.ToLower(strings.TrimSpace(text[open+2 : end]))
		sb.WriteString(text[:open])
		if v, ok := values[key]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(text[open : end+2])
		}
		text = text[end+2:]
	}
	sb.WriteString(text)
	return sb.String()
}
