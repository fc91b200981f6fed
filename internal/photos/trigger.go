package photos

import (
	"time"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/textnorm"
)

var (
	requestCues = textnorm.NormalizeAll([]string{
		"show me", "photo", "photos", "picture", "pictures", "album",
		"תראה לי", "תראי לי", "תמונה", "תמונות", "אלבום",
	})
	sadnessCues = textnorm.NormalizeAll([]string{
		"sad", "sadness", "lonely", "i miss", "crying", "unhappy", "depressed", "heartbroken",
		"עצוב", "עצובה", "בודד", "בודדה", "מתגעגע", "מתגעגעת", "בוכה", "קשה לי",
	})
)

// sadEmotionFloor is the confidence above which a "sad" emotion estimate
// triggers photos on its own.
const sadEmotionFloor = 0.6

// TriggerInput is the turn context photo triggers are computed from.
type TriggerInput struct {
	Text    string
	Emotion *memory.Emotion
	Elapsed time.Duration
	// KnownPeople are the family names on record. Manual tags are matched
	// against the mentioned names at selection time.
	KnownPeople []string
	// LongConversationFired reports whether the session already surfaced
	// photos for its length.
	LongConversationFired bool
	LongConversationAfter time.Duration
}

// Trigger is a decision to surface photos.
type Trigger struct {
	Reason         Reason
	MentionedNames []string
}

// DetectTrigger applies, in order: explicit request, family mention, sadness,
// long conversation. The first that holds wins.
func DetectTrigger(in TriggerInput) (Trigger, bool) {
	text, err := textnorm.Normalize(in.Text)
	if err != nil {
		text = ""
	}
	names := mentionedNames(text, in.KnownPeople)

	if len(textnorm.MatchAny(text, requestCues)) > 0 {
		return Trigger{Reason: ReasonRequested, MentionedNames: names}, true
	}
	if len(names) > 0 {
		return Trigger{Reason: ReasonFamilyMention, MentionedNames: names}, true
	}
	if len(textnorm.MatchAny(text, sadnessCues)) > 0 {
		return Trigger{Reason: ReasonSadness}, true
	}
	if e := in.Emotion; e != nil && e.Primary == string(memory.MoodSad) && e.Confidence >= sadEmotionFloor {
		return Trigger{Reason: ReasonSadness}, true
	}
	if !in.LongConversationFired && in.LongConversationAfter > 0 && in.Elapsed >= in.LongConversationAfter {
		return Trigger{Reason: ReasonLongConversation}, true
	}
	return Trigger{}, false
}

// mentionedNames returns the known people found in text, once each, in the
// order they were given.
func mentionedNames(text string, people []string) []string {
	if text == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range people {
		n, err := textnorm.Normalize(p)
		if err != nil || n == "" || seen[n] {
			continue
		}
		seen[n] = true
		if textnorm.ContainsWord(text, n) {
			out = append(out, p)
		}
	}
	return out
}
