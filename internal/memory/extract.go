package memory

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aiox-platform/companion/internal/textnorm"
)

// Extractor classifies a turn into long-term memory candidates.
type Extractor interface {
	Extract(turn ConversationTurn, conversation []ConversationTurn) []Candidate
}

const (
	namePat   = `(?P<val>\p{L}[\p{L}'-]+)`
	phrasePat = `(?P<val>[\p{L}\p{N}][\p{L}\p{N}'-]+(?: [\p{L}\p{N}][\p{L}\p{N}'-]*){0,3})`
	relEN     = `(?P<rel>daughter|son|wife|husband|grandson|granddaughter|grandchild|sister|brother|niece|nephew|caregiver|mother|father)`
	relHE     = `(?P<rel>נכדה|נכד|בת|בן|אחות|אח)`
	hebStart  = `(?:^|\s)`

	contextBoost   = 0.1
	questionFactor = 0.5
	maxContext     = 200
)

var relationNames = map[string]string{
	"נכדה": "granddaughter",
	"נכד":  "grandson",
	"בת":   "daughter",
	"בן":   "son",
	"אחות": "sister",
	"אח":   "brother",
	"אשתי": "wife",
	"בעלי": "husband",
}

var slotNames = map[string]string{
	"בוקר":  "morning",
	"בבוקר": "morning",
	"ערב":   "evening",
	"בערב":  "evening",
	"לילה":  "night",
	"בלילה": "night",
	"יום":   "day",
	"שבת":   "saturday",
	"השיר":  "song",
	"האוכל": "food",
	"הצבע":  "color",
	"הספר":  "book",
	"המקום": "place",
}

// Leading words dropped from captured phrases.
var leadStop = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "my": true, "some": true, "את": true,
}

// Words that end a captured phrase.
var cutStop = map[string]bool{
	"every": true, "each": true, "in": true, "on": true, "at": true, "with": true, "and": true,
	"but": true, "because": true, "when": true, "since": true, "for": true, "so": true,
	"very": true, "too": true, "today": true, "now": true,
	"כל": true, "עם": true, "אבל": true, "כי": true, "גם": true, "מאוד": true, "עכשיו": true, "היום": true,
}

// Captures that are never a person's name.
var nameStop = map[string]bool{
	"is": true, "was": true, "she": true, "he": true, "it": true, "they": true, "and": true,
	"the": true, "will": true, "lives": true, "comes": true, "visits": true, "called": true,
	"has": true, "always": true, "never": true, "who": true, "just": true, "also": true,
	"coming": true, "going": true, "here": true, "there": true, "home": true, "sick": true,
	"visiting": true, "not": true, "very": true, "so": true,
	"היא": true, "הוא": true, "זה": true, "זאת": true, "גרה": true, "גר": true, "באה": true,
	"בא": true, "מגיעה": true, "מגיע": true, "עובדת": true, "עובד": true, "לא": true,
	"כבר": true, "עוד": true, "תמיד": true, "גם": true, "התקשרה": true, "התקשר": true,
	"אמרה": true, "אמר": true, "שלי": true, "קוראים": true,
}

// Captures that are never an object of a preference, medication or routine.
var phraseStop = map[string]bool{
	"you": true, "it": true, "that": true, "this": true, "him": true, "her": true, "them": true,
	"אותך": true, "אותו": true, "אותה": true, "זה": true,
}

// Things people "take" that are not medication.
var notMedication = map[string]bool{
	"walk": true, "nap": true, "shower": true, "bath": true, "bus": true, "taxi": true,
	"break": true, "rest": true, "look": true, "picture": true, "photo": true, "care": true,
}

type extractionRule struct {
	re         *regexp.Regexp
	memType    MemoryType
	importance Importance
	confidence float64
	build      func(rel, slot, val string) (key, value string, ok bool)
}

func familyKey(rel, _, val string) (string, string, bool) {
	if nameStop[val] {
		return "", "", false
	}
	if en, ok := relationNames[rel]; ok {
		rel = en
	}
	return "family." + rel + ":" + slug(val), titleName(val), true
}

func fixedKey(key string) func(rel, slot, val string) (string, string, bool) {
	return func(_, _, val string) (string, string, bool) {
		return key, val, true
	}
}

func prefixedKey(prefix string) func(rel, slot, val string) (string, string, bool) {
	return func(_, _, val string) (string, string, bool) {
		if phraseStop[val] {
			return "", "", false
		}
		return prefix + slug(val), val, true
	}
}

func slotKey(prefix string) func(rel, slot, val string) (string, string, bool) {
	return func(_, slot, val string) (string, string, bool) {
		if phraseStop[val] {
			return "", "", false
		}
		if en, ok := slotNames[slot]; ok {
			slot = en
		}
		return prefix + slot, val, true
	}
}

func medicationKey(_, _, val string) (string, string, bool) {
	if notMedication[val] || phraseStop[val] {
		return "", "", false
	}
	return "medical.medication:" + slug(val), val, true
}

func placeKey(key string) func(rel, slot, val string) (string, string, bool) {
	return func(_, _, val string) (string, string, bool) {
		if val == "" || (val[0] >= '0' && val[0] <= '9') || strings.HasPrefix(val, "שנת") {
			return "", "", false
		}
		return key, titleName(val), true
	}
}

func doctorKey(_, _, val string) (string, string, bool) {
	if nameStop[val] {
		return "", "", false
	}
	return "medical.doctor", titleName(val), true
}

func rule(pattern string, t MemoryType, imp Importance, conf float64, build func(rel, slot, val string) (string, string, bool)) extractionRule {
	return extractionRule{re: regexp.MustCompile(pattern), memType: t, importance: imp, confidence: conf, build: build}
}

var extractionRules = []extractionRule{
	// family
	rule(`\bmy `+relEN+`(?:'s name| name)? is `+namePat, TypeFamilyInfo, ImportanceHigh, 0.9, familyKey),
	rule(namePat+` is my `+relEN+`\b`, TypeFamilyInfo, ImportanceHigh, 0.85, familyKey),
	rule(`\bmy `+relEN+`,? `+namePat, TypeFamilyInfo, ImportanceHigh, 0.7, familyKey),
	rule(hebStart+`(?:ה)?`+relHE+` שלי (?:קוראים לה|קוראים לו|שמה|שמו) `+namePat, TypeFamilyInfo, ImportanceHigh, 0.9, familyKey),
	rule(hebStart+`ל`+relHE+` שלי קוראים `+namePat, TypeFamilyInfo, ImportanceHigh, 0.9, familyKey),
	rule(hebStart+`ה`+relHE+` שלי(?: היא| הוא| זאת| זה)? `+namePat, TypeFamilyInfo, ImportanceHigh, 0.65, familyKey),
	rule(hebStart+`(?P<rel>אשתי|בעלי)(?: קוראים לה| קוראים לו)? `+namePat, TypeFamilyInfo, ImportanceHigh, 0.7, familyKey),

	// medical
	rule(`\bi(?: am|'m)? (?:taking|take|need to take|have to take) (?:my )?`+phrasePat, TypeMedicalInfo, ImportanceHigh, 0.8, medicationKey),
	rule(`\bmy doctor(?:'s name| name)? is (?:dr\.? |doctor )?`+namePat, TypeMedicalInfo, ImportanceHigh, 0.85, doctorKey),
	rule(`\bi have (?P<val>diabetes|dementia|alzheimer'?s|high blood pressure|heart problems|arthritis|parkinson'?s|asthma)\b`, TypeMedicalInfo, ImportanceHigh, 0.85, prefixedKey("medical.condition:")),
	rule(`\bi(?: am|'m) allergic to `+phrasePat, TypeMedicalInfo, ImportanceHigh, 0.9, prefixedKey("medical.allergy:")),
	rule(hebStart+`אני (?:לוקח|לוקחת|צריך לקחת|צריכה לקחת) `+phrasePat, TypeMedicalInfo, ImportanceHigh, 0.8, medicationKey),
	rule(hebStart+`(?:הרופא|הרופאה) שלי(?: הוא| היא| זה| זאת)? (?:ד"ר |דר |דוקטור )?`+namePat, TypeMedicalInfo, ImportanceHigh, 0.8, doctorKey),
	rule(hebStart+`יש לי (?P<val>סוכרת|לחץ דם|דמנציה|אלצהיימר|פרקינסון|אסתמה)`, TypeMedicalInfo, ImportanceHigh, 0.85, prefixedKey("medical.condition:")),
	rule(hebStart+`אני (?:אלרגי|אלרגית) ל`+phrasePat, TypeMedicalInfo, ImportanceHigh, 0.9, prefixedKey("medical.allergy:")),

	// preferences
	rule(`\bmy favou?rite (?P<slot>\p{L}+) is `+phrasePat, TypePreferences, ImportanceMedium, 0.85, slotKey("favorite.")),
	rule(`\bi (?:don't|do not) like `+phrasePat, TypePreferences, ImportanceLow, 0.7, prefixedKey("dislikes:")),
	rule(`\bi (?:hate|dislike) `+phrasePat, TypePreferences, ImportanceLow, 0.75, prefixedKey("dislikes:")),
	rule(`\bi (?:really )?(?:love|like|enjoy) `+phrasePat, TypePreferences, ImportanceLow, 0.7, prefixedKey("likes:")),
	rule(hebStart+`אני לא (?:אוהב|אוהבת) `+phrasePat, TypePreferences, ImportanceLow, 0.7, prefixedKey("dislikes:")),
	rule(hebStart+`אני (?:מאוד )?(?:אוהב|אוהבת|נהנה|נהנית)(?: מאוד)? `+phrasePat, TypePreferences, ImportanceLow, 0.7, prefixedKey("likes:")),
	rule(hebStart+`(?P<slot>השיר|האוכל|הצבע|הספר|המקום) (?:האהוב|האהובה) עלי(?: הוא| היא)? `+phrasePat, TypePreferences, ImportanceMedium, 0.85, slotKey("favorite.")),

	// routine
	rule(`\b(?:every|each) (?P<slot>morning|afternoon|evening|night|day|sunday|monday|tuesday|wednesday|thursday|friday|saturday) i (?:usually |always )?`+phrasePat, TypeRoutine, ImportanceMedium, 0.75, slotKey("routine.")),
	rule(`\bin the (?P<slot>morning|afternoon|evening) i (?:usually|always) `+phrasePat, TypeRoutine, ImportanceMedium, 0.75, slotKey("routine.")),
	rule(hebStart+`כל (?P<slot>בוקר|ערב|יום|לילה|שבת) אני (?:תמיד )?`+phrasePat, TypeRoutine, ImportanceMedium, 0.75, slotKey("routine.")),
	rule(hebStart+`(?P<slot>בבוקר|בערב|בלילה) אני (?:תמיד|בדרך כלל) `+phrasePat, TypeRoutine, ImportanceMedium, 0.7, slotKey("routine.")),

	// personal history
	rule(`\bi (?:used to work|worked) as (?:a |an )?`+phrasePat, TypePersonalHistory, ImportanceMedium, 0.85, fixedKey("history.occupation")),
	rule(`\bi was an? `+phrasePat+` for (?:\d+|many) years`, TypePersonalHistory, ImportanceMedium, 0.8, fixedKey("history.occupation")),
	rule(`\bi was born in (?P<val>\d{4})\b`, TypePersonalHistory, ImportanceMedium, 0.9, fixedKey("history.birth_year")),
	rule(`\bi was born in `+phrasePat, TypePersonalHistory, ImportanceMedium, 0.9, placeKey("history.birthplace")),
	rule(`\bi grew up in `+phrasePat, TypePersonalHistory, ImportanceMedium, 0.85, placeKey("history.hometown")),
	rule(hebStart+`עבדתי (?:בתור |כ)`+phrasePat, TypePersonalHistory, ImportanceMedium, 0.8, fixedKey("history.occupation")),
	rule(hebStart+`נולדתי בשנת (?P<val>\d{4})`, TypePersonalHistory, ImportanceMedium, 0.9, fixedKey("history.birth_year")),
	rule(hebStart+`נולדתי ב`+phrasePat, TypePersonalHistory, ImportanceMedium, 0.9, placeKey("history.birthplace")),
	rule(hebStart+`גדלתי ב`+phrasePat, TypePersonalHistory, ImportanceMedium, 0.85, placeKey("history.hometown")),
}

// Follow-up answers to a companion question such as "what is your daughter's name?".
var (
	askNameEN  = regexp.MustCompile(`\bwhat(?:'s| is) your ` + relEN + `(?:'s)? name`)
	askNameHE  = regexp.MustCompile(hebStart + `איך קוראים ל` + relHE + ` שלך`)
	bareAnswer = regexp.MustCompile(`^(?:her name is |his name is |it's |its |שמה |שמו |קוראים לה |קוראים לו )?` + namePat + `[.!]?$`)
)

const followUpConfidence = 0.75

// RuleExtractor is a lexicon and pattern classifier over English and Hebrew.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract returns candidates found in a user turn. Assistant and system turns
// never produce memories. conversation supplies earlier turns used to boost
// repeated facts and to interpret short answers to companion questions.
func (e *RuleExtractor) Extract(turn ConversationTurn, conversation []ConversationTurn) []Candidate {
	if turn.Role != RoleUser {
		return nil
	}
	text, err := textnorm.Normalize(turn.Transcript)
	if err != nil || text == "" {
		return nil
	}

	found := map[string]Candidate{}
	add := func(c Candidate) {
		id := string(c.MemoryType) + "|" + c.Key
		if cur, ok := found[id]; !ok || c.Confidence > cur.Confidence {
			found[id] = c
		}
	}

	ctxText := truncateRunes(turn.Transcript, maxContext)
	for _, r := range extractionRules {
		for _, m := range r.re.FindAllStringSubmatch(text, -1) {
			rel := group(r.re, m, "rel")
			slot := group(r.re, m, "slot")
			val := cleanPhrase(group(r.re, m, "val"))
			if val == "" {
				continue
			}
			key, value, ok := r.build(rel, slot, val)
			if !ok {
				continue
			}
			add(Candidate{
				MemoryType: r.memType,
				Key:        key,
				Value:      value,
				Context:    ctxText,
				Importance: r.importance,
				Confidence: r.confidence,
				Tags:       tagsFor(r.memType, key),
			})
		}
	}

	if c, ok := followUpAnswer(text, ctxText, turn, conversation); ok {
		add(c)
	}

	question := strings.Contains(turn.Transcript, "?")
	candidates := make([]Candidate, 0, len(found))
	for _, c := range found {
		if question {
			c.Confidence *= questionFactor
		}
		if repeatedEarlier(c.Value, turn, conversation) {
			c.Confidence = min(1, c.Confidence+contextBoost)
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].MemoryType != candidates[j].MemoryType {
			return candidates[i].MemoryType < candidates[j].MemoryType
		}
		return candidates[i].Key < candidates[j].Key
	})
	return candidates
}

func followUpAnswer(text, ctxText string, turn ConversationTurn, conversation []ConversationTurn) (Candidate, bool) {
	var asked string
	for i := len(conversation) - 1; i >= 0; i-- {
		prev := conversation[i]
		if prev.TurnID >= turn.TurnID && turn.TurnID != 0 {
			continue
		}
		if prev.Role == RoleUser {
			return Candidate{}, false
		}
		if prev.Role != RoleAssistant {
			continue
		}
		q, err := textnorm.Normalize(prev.Transcript)
		if err != nil {
			return Candidate{}, false
		}
		if m := askNameEN.FindStringSubmatch(q); m != nil {
			asked = group(askNameEN, m, "rel")
		} else if m := askNameHE.FindStringSubmatch(q); m != nil {
			asked = group(askNameHE, m, "rel")
		}
		break
	}
	if asked == "" {
		return Candidate{}, false
	}

	m := bareAnswer.FindStringSubmatch(text)
	if m == nil {
		return Candidate{}, false
	}
	key, value, ok := familyKey(asked, "", group(bareAnswer, m, "val"))
	if !ok {
		return Candidate{}, false
	}
	return Candidate{
		MemoryType: TypeFamilyInfo,
		Key:        key,
		Value:      value,
		Context:    ctxText,
		Importance: ImportanceHigh,
		Confidence: followUpConfidence,
		Tags:       tagsFor(TypeFamilyInfo, key),
	}, true
}

func repeatedEarlier(value string, turn ConversationTurn, conversation []ConversationTurn) bool {
	needle, err := textnorm.Normalize(value)
	if err != nil || needle == "" {
		return false
	}
	for _, prev := range conversation {
		if prev.Role != RoleUser || (prev.TurnID == turn.TurnID && prev.ConversationID == turn.ConversationID) {
			continue
		}
		text, err := textnorm.Normalize(prev.Transcript)
		if err != nil {
			continue
		}
		if textnorm.ContainsWord(text, needle) {
			return true
		}
	}
	return false
}

func group(re *regexp.Regexp, m []string, name string) string {
	idx := re.SubexpIndex(name)
	if idx < 0 || idx >= len(m) {
		return ""
	}
	return m[idx]
}

func cleanPhrase(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && leadStop[words[0]] {
		words = words[1:]
	}
	for i, w := range words {
		if cutStop[w] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

func slug(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}

// Casers are stateful, so each call gets its own.
func titleName(s string) string {
	return cases.Title(language.Und).String(s)
}

func tagsFor(t MemoryType, key string) []string {
	tags := []string{string(t)}
	head, rest, _ := strings.Cut(key, ":")
	if i := strings.Index(head, "."); i >= 0 {
		tags = append(tags, head[i+1:])
	}
	if rest != "" {
		tags = append(tags, rest)
	}
	return tags
}
