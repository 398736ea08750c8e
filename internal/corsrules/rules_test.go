package corsrules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyDeniesEverything(t *testing.T) {
	rules, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.False(t, rules.Allow("http://example.com", "GET"))
}

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	rules, err := Parse(strings.NewReader("\n# a comment\n\nhttp://example.com ALLOW\n"))
	require.NoError(t, err)
	require.True(t, rules.Allow("http://example.com", "GET"))
}

func TestAllowFirstMatchWins(t *testing.T) {
	rules, err := Parse(strings.NewReader(
		"https://evil.example.com DENY\n" +
			"https://*.example.com ALLOW\n",
	))
	require.NoError(t, err)

	require.False(t, rules.Allow("https://evil.example.com", "GET"))
	require.True(t, rules.Allow("https://api.example.com", "GET"))
	require.False(t, rules.Allow("https://other.com", "GET"))
}

func TestAllowRestrictsMethods(t *testing.T) {
	rules, err := Parse(strings.NewReader("http://example.com ALLOW GET,POST\n"))
	require.NoError(t, err)

	require.True(t, rules.Allow("http://example.com", "GET"))
	require.True(t, rules.Allow("http://example.com", "POST"))
	require.False(t, rules.Allow("http://example.com", "DELETE"))
}

func TestAllowMethodsALLPermitsAny(t *testing.T) {
	rules, err := Parse(strings.NewReader("http://example.com ALLOW ALL\n"))
	require.NoError(t, err)

	require.True(t, rules.Allow("http://example.com", "DELETE"))
}

func TestAllowHeaderRestrictsToList(t *testing.T) {
	rules, err := Parse(strings.NewReader("http://example.com ALLOW ALL Content-Type,Authorization\n"))
	require.NoError(t, err)

	require.True(t, rules.AllowHeader("http://example.com", "content-type"))
	require.True(t, rules.AllowHeader("http://example.com", "Authorization"))
	require.False(t, rules.AllowHeader("http://example.com", "X-Custom"))
}

func TestAllowHeaderDeniedOnDenyRule(t *testing.T) {
	rules, err := Parse(strings.NewReader("http://example.com DENY\n"))
	require.NoError(t, err)

	require.False(t, rules.AllowHeader("http://example.com", "content-type"))
}

func TestAllowNoMatchDenies(t *testing.T) {
	rules, err := Parse(strings.NewReader("http://example.com ALLOW\n"))
	require.NoError(t, err)

	require.False(t, rules.Allow("http://other.com", "GET"))
}

func TestNilRulesDenyEverything(t *testing.T) {
	var rules *Rules
	require.False(t, rules.Allow("http://example.com", "GET"))
	require.False(t, rules.AllowHeader("http://example.com", "content-type"))
}

func TestLoadMissingPathYieldsEmptyRules(t *testing.T) {
	rules, err := Load("")
	require.NoError(t, err)
	require.False(t, rules.Allow("http://example.com", "GET"))

	rules, err = Load("/nonexistent/path/to/rules.txt")
	require.NoError(t, err)
	require.False(t, rules.Allow("http://example.com", "GET"))
}

func TestCompileOriginPatternWildcardSubdomain(t *testing.T) {
	rules, err := Parse(strings.NewReader("https://*.example.com ALLOW\n"))
	require.NoError(t, err)

	require.True(t, rules.Allow("https://api.example.com", "GET"))
	require.True(t, rules.Allow("https://a.b.example.com", "GET"))
	require.False(t, rules.Allow("https://example.com", "GET"))
}
