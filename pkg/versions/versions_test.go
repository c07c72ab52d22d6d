package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1.2.3", "1.2.3"},
		{"v1.2.3", "1.2.3"},
		{"2.1", "2.1.0"},
		{"5", "5.0.0"},
		{"1.4.0-rc1+build.7", "1.4.0"},
		{"1.2.3.4", "1.2.3"},
		{"release 7.0.1 final", "7.0.1"},
		{"version-05.01", "5.1.0"},
		{"  3.2.1  ", "3.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v := Normalize(tt.raw)
			require.NotNil(t, v)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestNormalizeNoNumber(t *testing.T) {
	for _, raw := range []string{"", "latest", "v", "beta"} {
		assert.Nil(t, Normalize(raw), raw)
	}
}

func TestComparisonsAreVacuousOnNil(t *testing.T) {
	v := Normalize("1.0.0")

	assert.False(t, Eq(nil, v))
	assert.False(t, Eq(v, nil))
	assert.False(t, Gte(nil, v))
	assert.False(t, Lte(v, nil))
	assert.False(t, Between(nil, v, v))
	assert.False(t, Between(v, nil, v))
}

func TestBetweenIsInclusive(t *testing.T) {
	start, end := Normalize("1.0.0"), Normalize("2.0.0")

	assert.True(t, Between(Normalize("1.5.0"), start, end))
	assert.True(t, Between(Normalize("1.0.0"), start, end))
	assert.True(t, Between(Normalize("2.0.0"), start, end))
	assert.False(t, Between(Normalize("2.0.1"), start, end))
	assert.False(t, Between(Normalize("0.9.9"), start, end))
}

func TestEq(t *testing.T) {
	assert.True(t, Eq(Normalize("v2.1"), Normalize("2.1.0")))
	assert.False(t, Eq(Normalize("2.1.1"), Normalize("2.1.0")))
}
