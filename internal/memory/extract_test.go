package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractOne(t *testing.T, text string) []Candidate {
	t.Helper()
	return NewRuleExtractor().Extract(ConversationTurn{TurnID: 1, Role: RoleUser, Transcript: text}, nil)
}

func findCandidate(cs []Candidate, key string) *Candidate {
	for i := range cs {
		if cs[i].Key == key {
			return &cs[i]
		}
	}
	return nil
}

func TestRuleExtractor_Categories(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		typ   MemoryType
		key   string
		value string
	}{
		{"family english", "My daughter's name is Sarah.", TypeFamilyInfo, "family.daughter:sarah", "Sarah"},
		{"family reversed", "David is my grandson", TypeFamilyInfo, "family.grandson:david", "David"},
		{"family hebrew", "לבת שלי קוראים שרה", TypeFamilyInfo, "family.daughter:שרה", "שרה"},
		{"doctor", "My doctor is Dr. Cohen", TypeMedicalInfo, "medical.doctor", "Cohen"},
		{"medication", "I take aspirin every morning", TypeMedicalInfo, "medical.medication:aspirin", "aspirin"},
		{"condition", "I have diabetes", TypeMedicalInfo, "medical.condition:diabetes", "diabetes"},
		{"medication hebrew", "אני לוקחת אקמול", TypeMedicalInfo, "medical.medication:אקמול", "אקמול"},
		{"favorite", "My favorite song is yesterday", TypePreferences, "favorite.song", "yesterday"},
		{"likes", "I really love gardening", TypePreferences, "likes:gardening", "gardening"},
		{"dislikes", "I don't like fish", TypePreferences, "dislikes:fish", "fish"},
		{"routine", "Every morning I drink coffee", TypeRoutine, "routine.morning", "drink coffee"},
		{"routine hebrew", "כל ערב אני שומעת רדיו", TypeRoutine, "routine.evening", "שומעת רדיו"},
		{"occupation", "I worked as a teacher for forty years", TypePersonalHistory, "history.occupation", "teacher"},
		{"birthplace", "I was born in Warsaw", TypePersonalHistory, "history.birthplace", "Warsaw"},
		{"birthplace hebrew", "נולדתי בפולין", TypePersonalHistory, "history.birthplace", "פולין"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := findCandidate(extractOne(t, tt.text), tt.key)
			require.NotNil(t, c, "expected key %s", tt.key)
			assert.Equal(t, tt.typ, c.MemoryType)
			assert.Equal(t, tt.value, c.Value)
			assert.Greater(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
		})
	}
}

func TestRuleExtractor_AssistantTurnsIgnored(t *testing.T) {
	got := NewRuleExtractor().Extract(ConversationTurn{Role: RoleAssistant, Transcript: "My daughter is Sarah"}, nil)
	assert.Empty(t, got)
}

func TestRuleExtractor_RejectsNonNames(t *testing.T) {
	cs := extractOne(t, "my daughter is coming")
	for _, c := range cs {
		assert.NotEqual(t, TypeFamilyInfo, c.MemoryType, "unexpected %s", c.Key)
	}
}

func TestRuleExtractor_TakeAWalkIsNotMedication(t *testing.T) {
	cs := extractOne(t, "I take a walk every day")
	assert.Nil(t, findCandidate(cs, "medical.medication:walk"))
}

func TestRuleExtractor_BirthYearIsNotPlace(t *testing.T) {
	cs := extractOne(t, "I was born in 1941")
	assert.Nil(t, findCandidate(cs, "history.birthplace"))
	c := findCandidate(cs, "history.birth_year")
	require.NotNil(t, c)
	assert.Equal(t, "1941", c.Value)
}

func TestRuleExtractor_QuestionHalvesConfidence(t *testing.T) {
	statement := findCandidate(extractOne(t, "I have diabetes"), "medical.condition:diabetes")
	question := findCandidate(extractOne(t, "Do you think I have diabetes?"), "medical.condition:diabetes")
	require.NotNil(t, statement)
	require.NotNil(t, question)
	assert.InDelta(t, statement.Confidence*0.5, question.Confidence, 1e-9)
}

func TestRuleExtractor_RepeatedFactBoosted(t *testing.T) {
	conversation := []ConversationTurn{
		{TurnID: 1, Role: RoleUser, Transcript: "Sarah came yesterday"},
		{TurnID: 2, Role: RoleAssistant, Transcript: "How nice"},
	}
	turn := ConversationTurn{TurnID: 3, Role: RoleUser, Transcript: "my daughter sarah"}

	c := findCandidate(NewRuleExtractor().Extract(turn, conversation), "family.daughter:sarah")
	require.NotNil(t, c)
	assert.InDelta(t, 0.8, c.Confidence, 1e-9)
}

func TestRuleExtractor_FollowUpAnswer(t *testing.T) {
	conversation := []ConversationTurn{
		{TurnID: 1, Role: RoleAssistant, Transcript: "What is your granddaughter's name?"},
		{TurnID: 2, Role: RoleUser, Transcript: "Noa"},
		{TurnID: 3, Role: RoleAssistant, Transcript: "What a lovely name"},
	}
	turn := conversation[1]

	c := findCandidate(NewRuleExtractor().Extract(turn, conversation), "family.granddaughter:noa")
	require.NotNil(t, c)
	assert.Equal(t, "Noa", c.Value)
	assert.Equal(t, ImportanceHigh, c.Importance)
}

func TestRuleExtractor_NoFollowUpWithoutQuestion(t *testing.T) {
	conversation := []ConversationTurn{
		{TurnID: 1, Role: RoleAssistant, Transcript: "Good morning"},
		{TurnID: 2, Role: RoleUser, Transcript: "Noa"},
	}
	assert.Empty(t, NewRuleExtractor().Extract(conversation[1], conversation))
}

func TestRuleExtractor_DeterministicOrder(t *testing.T) {
	text := "I have diabetes and my son is David. I was born in Warsaw"
	a := extractOne(t, text)
	b := extractOne(t, text)
	assert.Equal(t, a, b)
	require.Len(t, a, 3)
	assert.Equal(t, TypeFamilyInfo, a[0].MemoryType)
}
