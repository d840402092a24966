package krist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNameData(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  NameData
	}{
		{
			name:  "metaname and name",
			input: "meta@name.kro",
			want:  NameData{Name: "name", Metaname: "meta"},
		},
		{
			name:  "name only",
			input: "shop.kro",
			want:  NameData{Name: "shop"},
		},
		{
			name:  "trailing metadata after name",
			input: "shop.kro;return=kfoo12345",
			want:  NameData{Name: "shop"},
		},
		{
			name:  "metaname with underscore and dash",
			input: "till_3-a@shop.kro",
			want:  NameData{Name: "shop", Metaname: "till_3-a"},
		},
		{
			name:  "empty input",
			input: "",
			want:  NameData{},
		},
		{
			name:  "plain address is not a name",
			input: "k123456789",
			want:  NameData{},
		},
		{
			name:  "wrong suffix",
			input: "shop.kst",
			want:  NameData{},
		},
		{
			name:  "uppercase rejected",
			input: "Shop.kro",
			want:  NameData{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNameData(tt.input))
		})
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "shop", NormalizeName("  Shop.kro "))
	assert.Equal(t, "shop", NormalizeName("shop"))
	assert.Equal(t, "a1", NormalizeName("A1.KRO"))
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("shop"))
	assert.True(t, IsValidName("a"))
	assert.False(t, IsValidName(""))
	assert.False(t, IsValidName("Shop"))
	assert.False(t, IsValidName("has space"))
	assert.False(t, IsValidName(strings.Repeat("a", 65)))
	assert.True(t, IsValidName(strings.Repeat("a", 64)))
}
