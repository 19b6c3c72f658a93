package engine

import (
	"strings"
	"unicode"
)

// MessageType is the coarse category of an incoming user message.
type MessageType string

// Message categories, in matching order.
const (
	MessageGreeting      MessageType = "greeting"
	MessageQuestion      MessageType = "question"
	MessageCompliment    MessageType = "compliment"
	MessageComfortNeeded MessageType = "comfort_needed"
	MessageGeneral       MessageType = "general"
)

// classifiers are checked in order; the first one with a matching keyword
// wins. Multi-word keywords match whole word sequences.
var classifiers = []struct {
	typ      MessageType
	keywords []string
}{
	{MessageGreeting, []string{
		"hello", "hi", "hey", "heya", "hiya", "howdy", "greetings", "hallo",
		"good morning", "good afternoon", "good evening", "good day", "well met",
	}},
	{MessageQuestion, []string{
		"what", "why", "how", "when", "where", "who", "which",
		"can you", "could you", "would you", "do you", "are you", "is it", "tell me",
	}},
	{MessageCompliment, []string{
		"beautiful", "amazing", "awesome", "wonderful", "brilliant", "gorgeous",
		"lovely", "impressive", "cute", "you're great", "you are great",
		"love your", "great job", "well done",
	}},
	{MessageComfortNeeded, []string{
		"sad", "lonely", "alone", "depressed", "upset", "anxious", "scared",
		"afraid", "worried", "stressed", "hurt", "crying", "miserable",
		"heartbroken", "exhausted", "hopeless", "bad day",
	}},
}

// moods maps a message category to the mood it puts the character in.
// General messages leave the mood unchanged.
var moods = map[MessageType]string{
	MessageGreeting:      "cheerful",
	MessageQuestion:      "curious",
	MessageCompliment:    "pleased",
	MessageComfortNeeded: "concerned",
}

// Classify assigns msg to the first category whose keyword list matches.
// A trailing question mark also counts as a question.
func Classify(msg string) MessageType {
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	padded := " " + strings.Join(words, " ") + " "
	question := strings.HasSuffix(strings.TrimSpace(msg), "?")

	for _, c := range classifiers {
		if c.typ == MessageQuestion && question {
			return MessageQuestion
		}
		for _, kw := range c.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return c.typ
			}
		}
	}
	return MessageGeneral
}

// templated reports whether t prefers the templated reply path.
func (t MessageType) templated() bool {
	return t == MessageGreeting || t == MessageComfortNeeded
}
