package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := Default()

	tests := []struct {
		name string
		want string
	}{
		{"Wordpress", "wordpress"},
		{"WORDPRESS", "wordpress"},
		{"Admin in English with Switch", "admininenglishwithswitch"},
		{"Google Chrome", "chrome"},
		{"Mozilla Firefox (x64 en-US)", "firefoxx64enus"},
		{"Oracle VM VirtualBox 7.0", "vmvirtualbox70"},
		{"Acme Corp.", "acme"},
		{"7-Zip", "7zip"},
		{"Microsoft", ""},
		// noise tokens are removed inside words too
		{"Princess", "press"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.name))
		})
	}
}

func TestAliasOverridesInput(t *testing.T) {
	n := New(map[string]string{"Notepad++": "notepad_plus_plus"}, nil)

	assert.Equal(t, "notepadplusplus", n.Normalize("Notepad++"))
	assert.Equal(t, "notepadplusplus", n.Normalize("notepad++"))
	assert.Equal(t, "notepad", n.Normalize("Notepad"))
}

func TestNoiseTokensAreSanitized(t *testing.T) {
	n := New(nil, []string{"  ", "Foo.Bar", ""})

	assert.Equal(t, "baz", n.Normalize("FooBar Baz"))
}

func TestNoNoiseTokens(t *testing.T) {
	n := New(nil, nil)

	assert.Equal(t, "microsoftedge", n.Normalize("Microsoft Edge"))
}

func TestRelated(t *testing.T) {
	assert.True(t, Related("wordpress", "wordpress"))
	assert.True(t, Related("wordpressseo", "wordpress"))
	assert.True(t, Related("chrome", "chromeenterprise"))
	assert.False(t, Related("chrome", "firefox"))
	assert.False(t, Related("", "chrome"))
	assert.False(t, Related("chrome", ""))
}
