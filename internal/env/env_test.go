package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeLayers(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/mc", "=broken", "JAVA_HOME=/opt/jdk"}
	over := []string{"PATH=${JAVA_HOME}/bin:$PATH", "TZ=UTC"}
	out, err := Compose(base, over, "CRAFTD_SERVER=my server")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CRAFTD_SERVER=my server",
		"HOME=/home/mc",
		"JAVA_HOME=/opt/jdk",
		"PATH=/opt/jdk/bin:/usr/bin",
		"TZ=UTC",
	}, out)
}

func TestPinnedWins(t *testing.T) {
	out, err := Compose(nil, []string{"CRAFTD_SERVER=other"}, "CRAFTD_SERVER=alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"CRAFTD_SERVER=alpha"}, out)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"NOVALUE", "=x", " =x"} {
		_, err := Parse([]string{bad})
		assert.Error(t, err, bad)
	}
	m, err := Parse([]string{"A=1", "A=2", "B="})
	require.NoError(t, err)
	assert.Equal(t, Var{"A": "2", "B": ""}, m)
}

func TestComposeExpandsInOrder(t *testing.T) {
	base := []string{"PATH=/usr/bin", "JAVA_HOME=/opt/jdk17"}
	for i := 0; i < 50; i++ {
		out, err := Compose(base, []string{"JAVA_HOME=/opt/jdk21", "PATH=${JAVA_HOME}/bin:$PATH"})
		require.NoError(t, err)
		assert.Contains(t, out, "PATH=/opt/jdk21/bin:/usr/bin")
	}

	// a later override sees the earlier value of the same key
	out, err := Compose(nil, []string{"A=1", "A=${A}2", "B=$A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A=12", "B=12"}, out)
}
