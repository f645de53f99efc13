package serverconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_RoundTripKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	p := DefaultProperties(25570, "hi ${not-expanded}")
	require.NoError(t, SaveProperties(dir, p))

	got, err := LoadProperties(dir)
	require.NoError(t, err)
	assert.Equal(t, p.Keys(), got.Keys())
	assert.Equal(t, 25570, Port(got))
	v, _ := got.Get("motd")
	assert.Equal(t, "hi ${not-expanded}", v)
}

func TestProperties_MissingFile(t *testing.T) {
	p, err := LoadProperties(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, Port(p))
	assert.Equal(t, "127.0.0.1", Host(p))
}

func TestHost(t *testing.T) {
	p := DefaultProperties(25565, "")
	for ip, want := range map[string]string{"": "127.0.0.1", "0.0.0.0": "127.0.0.1", "10.0.0.5": "10.0.0.5"} {
		_, _, _ = p.Set("server-ip", ip)
		assert.Equal(t, want, Host(p), ip)
	}
}

func TestQueryPort(t *testing.T) {
	p := DefaultProperties(25565, "")
	_, ok := QueryPort(p)
	assert.False(t, ok)
	_, _, _ = p.Set("enable-query", "true")
	_, _, _ = p.Set("query.port", "25590")
	port, ok := QueryPort(p)
	assert.True(t, ok)
	assert.Equal(t, 25590, port)
}

func TestEULA(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, EULAAccepted(dir))
	require.NoError(t, AcceptEULA(dir))
	assert.True(t, EULAAccepted(dir))
}
