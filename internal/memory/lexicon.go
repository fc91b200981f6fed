package memory

import "github.com/aiox-platform/companion/internal/textnorm"

// Phrase lists are stored pre-normalized so matching only normalizes the transcript.

var moodLexicon = map[Mood][]string{
	MoodSad: textnorm.NormalizeAll([]string{
		"sad", "lonely", "i miss", "crying", "depressed", "heartbroken", "unhappy",
		"עצוב", "עצובה", "בודד", "בודדה", "מתגעגע", "מתגעגעת", "בוכה", "מדוכא", "מדוכאת",
	}),
	MoodAnxious: textnorm.NormalizeAll([]string{
		"worried", "scared", "afraid", "nervous", "anxious", "confused", "frightened",
		"מפחד", "מפחדת", "דואג", "דואגת", "לחוץ", "לחוצה", "מבולבל", "מבולבלת", "חרד", "חרדה",
	}),
	MoodHappy: textnorm.NormalizeAll([]string{
		"happy", "glad", "wonderful", "great day", "delighted", "i love it", "so nice",
		"שמח", "שמחה", "נהדר", "כיף", "מאושר", "מאושרת", "איזה יופי",
	}),
}

// moodOrder makes lexicon scoring deterministic when a turn hits several moods.
var moodOrder = []Mood{MoodSad, MoodAnxious, MoodHappy}

var themeLexicon = map[string][]string{
	"family": textnorm.NormalizeAll([]string{
		"family", "daughter", "son", "grandchild", "grandson", "granddaughter", "grandchildren", "wife", "husband",
		"משפחה", "הבת שלי", "הבן שלי", "נכד", "נכדה", "נכדים", "אשתי", "בעלי",
	}),
	"health": textnorm.NormalizeAll([]string{
		"doctor", "medicine", "pills", "hospital", "pain", "clinic",
		"רופא", "רופאה", "תרופה", "תרופות", "כדורים", "בית חולים", "כואב", "קופת חולים",
	}),
	"music": textnorm.NormalizeAll([]string{
		"music", "song", "songs", "sing", "radio", "piano",
		"מוזיקה", "השיר", "שירים", "לשיר", "רדיו", "פסנתר",
	}),
	"food": textnorm.NormalizeAll([]string{
		"lunch", "dinner", "breakfast", "cook", "cooking", "soup", "cake", "bake",
		"ארוחה", "ארוחת", "לבשל", "בישול", "מרק", "עוגה", "לאפות",
	}),
	"garden": textnorm.NormalizeAll([]string{
		"garden", "flowers", "plants", "tomatoes",
		"גינה", "פרחים", "עציצים", "צמחים",
	}),
	"memories": textnorm.NormalizeAll([]string{
		"remember when", "when i was young", "years ago", "back then", "old days",
		"אני זוכר", "אני זוכרת", "כשהייתי צעיר", "כשהייתי צעירה", "פעם מזמן", "לפני שנים",
	}),
	"outings": textnorm.NormalizeAll([]string{
		"walk", "park", "trip", "beach", "visit",
		"טיול", "הליכה", "פארק", "חוף הים", "ביקור",
	}),
	"faith": textnorm.NormalizeAll([]string{
		"synagogue", "church", "pray", "shabbat", "holiday",
		"בית כנסת", "להתפלל", "תפילה", "בשבת", "החג",
	}),
}

var activityLexicon = map[string][]string{
	"walk":      textnorm.NormalizeAll([]string{"went for a walk", "walked", "הלכתי לטייל", "טיילתי", "הייתי בהליכה"}),
	"cooking":   textnorm.NormalizeAll([]string{"i cooked", "i baked", "בישלתי", "אפיתי"}),
	"music":     textnorm.NormalizeAll([]string{"listened to music", "i sang", "שמעתי מוזיקה", "שרתי"}),
	"gardening": textnorm.NormalizeAll([]string{"watered the plants", "worked in the garden", "השקיתי", "עבדתי בגינה"}),
	"visit":     textnorm.NormalizeAll([]string{"came to visit", "visited me", "באו לבקר", "באה לבקר", "בא לבקר"}),
	"reading":   textnorm.NormalizeAll([]string{"i read", "reading a book", "קראתי", "קוראת ספר", "קורא ספר"}),
}

type eventCue struct {
	phrase string
	days   int
}

var eventCues = func() []eventCue {
	raw := []struct {
		phrase string
		days   int
	}{
		// longer cues first: "מחרתיים" contains "מחר"
		{"the day after tomorrow", 2},
		{"tomorrow", 1},
		{"next week", 7},
		{"מחרתיים", 2},
		{"מחר", 1},
		{"בשבוע הבא", 7},
	}
	cues := make([]eventCue, 0, len(raw))
	for _, r := range raw {
		n, err := textnorm.Normalize(r.phrase)
		if err != nil || n == "" {
			continue
		}
		cues = append(cues, eventCue{phrase: n, days: r.days})
	}
	return cues
}()

// emotionMoods maps emotion labels from the speech layer onto working moods.
var emotionMoods = map[string]Mood{
	"happy":    MoodHappy,
	"joy":      MoodHappy,
	"content":  MoodHappy,
	"sad":      MoodSad,
	"sadness":  MoodSad,
	"lonely":   MoodSad,
	"anxious":  MoodAnxious,
	"anxiety":  MoodAnxious,
	"fear":     MoodAnxious,
	"scared":   MoodAnxious,
	"confused": MoodAnxious,
	"neutral":  MoodNeutral,
	"calm":     MoodNeutral,
}
