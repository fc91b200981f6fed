package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "Leave HOME", "leave home"},
		{"trims and collapses", "  leave \t  home \n", "leave home"},
		{"strips latin accents", "Café Crème", "cafe creme"},
		{"strips hebrew niqqud", "לָצֵאת לְבַד", "לצאת לבד"},
		{"folds full width", "ＨＯＭＥ", "home"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_InvalidUTF8(t *testing.T) {
	_, err := Normalize("abc\xff")
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestNormalizeAll_DropsEmpty(t *testing.T) {
	got := NormalizeAll([]string{"Sarah", "  ", "", "Beach Day"})
	assert.Equal(t, []string{"sarah", "beach day"}, got)
}

func TestContainsWord(t *testing.T) {
	tests := []struct {
		text   string
		phrase string
		want   bool
	}{
		{"show me sarah please", "sarah", true},
		{"sarahs photos", "sarah", false},
		{"diet plan", "die", false},
		{"i want to die", "die", true},
		{"היא בבית של שרה", "שרה", true},
		{"ללכת לשרה", "שרה", true},
		{"nothing here", "", false},
		{"sarah", "sarah", true},
		{"sarahsarah sarah", "sarah", true},
	}

	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.phrase, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsWord(tt.text, tt.phrase))
		})
	}
}

func TestMatchAny(t *testing.T) {
	found := MatchAny("i miss sarah and david", []string{"sarah", "david", "ruth"})
	assert.Equal(t, []string{"sarah", "david"}, found)
}
