package safety

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aiox-platform/companion/internal/textnorm"
)

type compiledRule struct {
	id           string
	name         string
	reason       string
	severity     Severity
	incidentType string
	phrases      []phrase
}

// Policy is an immutable, compiled form of Rules. It is safe for concurrent use.
type Policy struct {
	tiers      [3][]compiledRule
	redirect   []phrase
	approved   []phrase
	recipients []Recipient
}

const (
	tierCrisis = iota
	tierNeverAllow
	tierForbidden
)

// Compile normalizes every configured phrase once.
func Compile(rules Rules) (*Policy, error) {
	overrides := make(map[string]string, len(rules.IncidentTypes))
	for k, v := range rules.IncidentTypes {
		n, err := textnorm.Normalize(k)
		if err != nil {
			return nil, fmt.Errorf("incident_types key %q: %w", k, err)
		}
		overrides[n] = v
		overrides[k] = v
	}

	p := &Policy{recipients: slices.Clone(rules.Recipients)}

	crisis, err := compilePhrases(rules.CrisisTriggers)
	if err != nil {
		return nil, fmt.Errorf("crisis_triggers: %w", err)
	}
	for _, ph := range crisis {
		id := "crisis:" + ph.norm
		p.tiers[tierCrisis] = append(p.tiers[tierCrisis], compiledRule{
			id:           id,
			name:         "crisis_trigger",
			reason:       "crisis trigger phrase: " + ph.raw,
			severity:     SeverityCritical,
			incidentType: classify(overrides, TypeCrisisTrigger, []string{id, ph.norm}, ph.norm),
			phrases:      []phrase{ph},
		})
	}

	for i, r := range rules.NeverAllow {
		keywords := r.Keywords
		if len(keywords) == 0 {
			keywords = []string{r.Rule}
		}
		phrases, err := compilePhrases(keywords)
		if err != nil {
			return nil, fmt.Errorf("never_allow[%d]: %w", i, err)
		}
		if len(phrases) == 0 {
			continue
		}
		if !r.Severity.Valid() {
			return nil, fmt.Errorf("never_allow[%d]: invalid severity %q", i, r.Severity)
		}
		ruleNorm, _ := textnorm.Normalize(r.Rule)
		id := "never_allow:" + r.ID
		if r.ID == "" {
			id = "never_allow:" + ruleNorm
		}
		hints := []string{ruleNorm}
		for _, ph := range phrases {
			hints = append(hints, ph.norm)
		}
		p.tiers[tierNeverAllow] = append(p.tiers[tierNeverAllow], compiledRule{
			id:           id,
			name:         r.Rule,
			reason:       r.Reason,
			severity:     r.Severity,
			incidentType: classify(overrides, TypeNeverAllow, []string{id, ruleNorm}, hints...),
			phrases:      phrases,
		})
	}

	forbidden, err := compilePhrases(rules.ForbiddenTopics)
	if err != nil {
		return nil, fmt.Errorf("forbidden_topics: %w", err)
	}
	severity := rules.ForbiddenSeverity
	if severity == "" {
		severity = SeverityMedium
	}
	for _, ph := range forbidden {
		id := "forbidden:" + ph.norm
		p.tiers[tierForbidden] = append(p.tiers[tierForbidden], compiledRule{
			id:           id,
			name:         "forbidden_topic",
			reason:       "forbidden topic: " + ph.raw,
			severity:     severity,
			incidentType: classify(overrides, TypeForbiddenTopic, []string{id, ph.norm}, ph.norm),
			phrases:      []phrase{ph},
		})
	}

	if p.redirect, err = compilePhrases(rules.RedirectToFamily); err != nil {
		return nil, fmt.Errorf("redirect_to_family: %w", err)
	}
	if p.approved, err = compilePhrases(rules.ApprovedActivities); err != nil {
		return nil, fmt.Errorf("approved_activities: %w", err)
	}
	return p, nil
}

// Scan checks text against crisis triggers, then never-allow rules, then
// forbidden topics. Every tier matches by plain containment on normalized
// text, so "bank" also fires inside "banking". The first hit wins. A nil match with a nil error means
// the text is clean; any error means it was not screened.
func (p *Policy) Scan(text string, role Role) (*Match, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no policy loaded", ErrScreeningFailure)
	}
	norm, err := normalize(text)
	if err != nil {
		return nil, err
	}
	if norm == "" {
		return nil, nil
	}

	for _, tier := range p.tiers {
		for _, r := range tier {
			for _, ph := range r.phrases {
				if !strings.Contains(norm, ph.norm) {
					continue
				}
				return &Match{
					RuleID:       r.id,
					RuleName:     r.name,
					Reason:       r.reason,
					IncidentType: r.incidentType,
					Severity:     r.severity,
					Phrase:       ph.raw,
					Role:         role,
				}, nil
			}
		}
	}
	return nil, nil
}

// RedirectTopic returns the first redirect-to-family topic mentioned in text.
func (p *Policy) RedirectTopic(text string) string {
	if p == nil {
		return ""
	}
	norm, err := textnorm.Normalize(text)
	if err != nil {
		return ""
	}
	for _, ph := range p.redirect {
		if textnorm.ContainsWord(norm, ph.norm) {
			return ph.raw
		}
	}
	return ""
}

// ApprovedMentions returns the approved activities mentioned in text.
func (p *Policy) ApprovedMentions(text string) []string {
	if p == nil {
		return nil
	}
	norm, err := textnorm.Normalize(text)
	if err != nil {
		return nil
	}
	var found []string
	for _, ph := range p.approved {
		if textnorm.ContainsWord(norm, ph.norm) {
			found = append(found, ph.raw)
		}
	}
	return found
}

func (p *Policy) ApprovedActivities() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.approved))
	for i, ph := range p.approved {
		out[i] = ph.raw
	}
	return out
}

func (p *Policy) Recipients() []Recipient {
	if p == nil {
		return nil
	}
	return slices.Clone(p.recipients)
}
