package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFullConfig(t *testing.T) {
	src := `
# a comment
path /var/plugins

service /static static
option /static root=/srv/www

service /api echo
option /api greeting=hi

auth cookie
restrict /api
user alice secret
`
	cfg, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, []string{"/var/plugins"}, cfg.Paths)
	require.Len(t, cfg.Services, 2)
	require.Equal(t, "/static", cfg.Services[0].Prefix)
	require.Equal(t, "/srv/www", cfg.Services[0].Options["root"])
	require.Equal(t, "/api", cfg.Services[1].Prefix)
	require.Equal(t, "hi", cfg.Services[1].Options["greeting"])
	require.Equal(t, AuthCookie, cfg.Auth)
	require.Equal(t, []string{"/api"}, cfg.Restricted)
	require.Len(t, cfg.Users, 1)
	require.Equal(t, "alice", cfg.Users[0].Name)
	require.Equal(t, "secret", cfg.Users[0].Password)
}

// TestOptionAppliesToCorrectServiceAfterReallocation guards against a
// stale-pointer bug: appending many services must not disturb an
// earlier service's Options map once an `option` directive has
// already bound to it.
func TestOptionAppliesToCorrectServiceAfterReallocation(t *testing.T) {
	var b strings.Builder
	b.WriteString("service /s0 echo\noption /s0 k=v0\n")
	for i := 1; i < 20; i++ {
		b.WriteString("service /s")
		b.WriteByte(byte('0' + i%10))
		b.WriteString(" echo\n")
	}
	cfg, err := Parse(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Equal(t, "v0", cfg.Services[0].Options["k"], "stale pointer would show empty or wrong binding")
}

func TestOptionForUnknownPrefixFails(t *testing.T) {
	_, err := Parse(strings.NewReader("option /nope k=v\n"))
	require.Error(t, err)
}

func TestUnrecognisedCommandFails(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus thing\n"))
	require.Error(t, err)
}

func TestBlankLinesAndCommentsIgnored(t *testing.T) {
	cfg, err := Parse(strings.NewReader("\n  \n# comment\n\nservice /x echo\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
}
