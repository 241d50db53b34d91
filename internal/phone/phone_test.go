package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_EquivalentFormats(t *testing.T) {
	inputs := []string{
		"+7 916 123 45 67",
		"89161234567",
		"9161234567",
		"8 (916) 123-45-67",
		"+7-916-123-4567",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, "9161234567", Normalize(in))
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"anonymous",
		"12345",
		"+7 916 123",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			got := Normalize(in)
			assert.Equal(t, Invalid, got)
			assert.False(t, IsValid(got))
		})
	}
}

func TestNormalize_KeepsOtherLengths(t *testing.T) {
	// 11 digits without a trunk prefix stay as-is.
	assert.Equal(t, "19161234567", Normalize("19161234567"))
	// 12 digits are not trimmed.
	assert.Equal(t, "380501234567", Normalize("+380 50 123 45 67"))
}

func TestExpand(t *testing.T) {
	assert.Equal(t,
		[]string{"9161234567", "79161234567", "89161234567"},
		Expand("9161234567"))
	assert.Nil(t, Expand(Invalid))
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "1234567", Suffix("9161234567", 0))
	assert.Equal(t, "4567", Suffix("9161234567", 4))
	assert.Equal(t, "123", Suffix("123", 7))
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"+7 916 123 45 67", "bad", "89161234567", "8 903 000 11 22"})
	assert.Equal(t, []string{"9161234567", "9030001122"}, got)
}
