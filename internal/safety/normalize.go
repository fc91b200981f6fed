package safety

import (
	"fmt"
	"strings"

	"github.com/aiox-platform/companion/internal/textnorm"
)

// phrase is a configured keyword kept in both display and matching form.
type phrase struct {
	raw  string
	norm string
}

func compilePhrases(list []string) ([]phrase, error) {
	out := make([]phrase, 0, len(list))
	for _, raw := range list {
		n, err := textnorm.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("phrase %q: %w", raw, err)
		}
		if n == "" {
			continue
		}
		out = append(out, phrase{raw: raw, norm: n})
	}
	return out, nil
}

func normalize(text string) (string, error) {
	n, err := textnorm.Normalize(text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScreeningFailure, err)
	}
	return n, nil
}

const (
	TypeLeavingHomeAlone = "leaving_home_alone"
	TypeSelfHarm         = "self_harm"
	TypeMedication       = "medication"
	TypeFinancial        = "financial"
	TypeStrangerContact  = "stranger_contact"

	TypeCrisisTrigger  = "crisis_trigger"
	TypeNeverAllow     = "never_allow"
	TypeForbiddenTopic = "forbidden_topic"
)

type incidentCue struct {
	incidentType string
	cues         []string
}

// Checked in order; self harm outranks the rest when a phrase carries several cues.
var incidentLexicon = []incidentCue{
	{TypeSelfHarm, textnorm.NormalizeAll([]string{
		"kill myself", "hurt myself", "want to die", "end my life", "suicide", "not worth living",
		"לפגוע בעצמי", "להתאבד", "למות", "לא רוצה לחיות", "לשים קץ",
	})},
	{TypeLeavingHomeAlone, textnorm.NormalizeAll([]string{
		"leave home", "leave the house", "go out alone", "going out", "walk alone", "go outside", "wander", "go home",
		"לצאת", "ללכת הביתה", "לחפש את", "מהבית", "לנסוע",
	})},
	{TypeMedication, textnorm.NormalizeAll([]string{
		"medication", "medicine", "pills", "overdose", "stop taking", "double dose",
		"תרופה", "תרופות", "כדורים", "להפסיק לקחת", "מנה כפולה",
	})},
	{TypeFinancial, textnorm.NormalizeAll([]string{
		"money", "bank", "credit card", "password", "transfer", "pin code",
		"כסף", "בנק", "כרטיס אשראי", "סיסמה", "להעביר", "קוד סודי",
	})},
	{TypeStrangerContact, textnorm.NormalizeAll([]string{
		"stranger", "open the door", "someone at the door", "give my address",
		"אדם זר", "אנשים זרים", "לפתוח את הדלת", "מישהו בדלת", "הכתובת שלי",
	})},
}

// classify picks an incident type for a matched phrase. Explicit overrides
// win, then the built-in lexicon over each hint, then the tier fallback.
func classify(overrides map[string]string, fallback string, keys []string, hints ...string) string {
	for _, k := range keys {
		if t, ok := overrides[k]; ok && t != "" {
			return t
		}
	}
	for _, entry := range incidentLexicon {
		for _, h := range hints {
			for _, cue := range entry.cues {
				if strings.Contains(h, cue) {
					return entry.incidentType
				}
			}
		}
	}
	return fallback
}
