package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocabulary_Scan(t *testing.T) {
	v := NewVocabulary()
	v.Scan("TQQQ", "PROSHARES ULTRAPRO QQQ")
	v.Scan("TQQQ 01/17/2025 50.00 P", "PUT PROSHARES ULTRAPRO QQQ $50 EXP 01/17/25")
	v.Scan("", "CALL SOFI TECHNOLOGIES $10 EXP 01/17/25")
	v.Scan("BRK.B", "")
	v.Scan("toolong", "")

	assert.Equal(t, []string{"SOFI", "TQQQ"}, v.Tickers())
	assert.True(t, v.Contains("TQQQ"))
	assert.False(t, v.Contains("BRK.B"))
	assert.Equal(t, 2, v.Len())
}

func TestVocabulary_ResolveIsDeterministic(t *testing.T) {
	tests := []struct {
		name    string
		symbols []string
		descs   []string
		in      string
		want    string
	}{
		{
			name:    "literal symbol beats description word",
			symbols: []string{"TSLA"},
			descs:   []string{"PUT TESLA INC $250 EXP 01/17/25"},
			in:      "TESLA INC TSLA",
			want:    "TSLA",
		},
		{
			name:    "whole word beats substring",
			symbols: []string{"F", "O"},
			in:      "FORD MTR CO F",
			want:    "F",
		},
		{
			name:    "longest wins among whole words",
			symbols: []string{"QQQ", "TQQQ"},
			in:      "PROSHARES ULTRAPRO QQQ TQQQ",
			want:    "TQQQ",
		},
		{
			name:    "lexicographic tie break",
			symbols: []string{"AB", "CD"},
			in:      "AB CD",
			want:    "AB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				v := NewVocabulary()
				for _, s := range tt.symbols {
					v.AddSymbol(s)
				}
				for _, d := range tt.descs {
					v.AddDescription(d)
				}
				got, ok := v.Resolve(tt.in)
				assert.True(t, ok)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestVocabulary_AddSymbolUpgradesSource(t *testing.T) {
	v := NewVocabulary()
	assert.True(t, v.AddDescription("CALL SOFI TECHNOLOGIES"))
	assert.False(t, v.AddDescription("CALL SOFI TECHNOLOGIES"))
	assert.True(t, v.AddSymbol("SOFI"))
	assert.False(t, v.AddSymbol("SOFI"))
}
