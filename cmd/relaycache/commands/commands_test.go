package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poprelay/relaycache/internal/relay"
)

func TestPublishLines(t *testing.T) {
	bus := relay.NewBus()
	var got []relay.Message
	require.NoError(t, bus.SubscribeDecoded(func(msg relay.Message) { got = append(got, msg) }))

	n, err := publishLines(strings.NewReader("{\"a\":1}\n\n{\"b\":2}\n"), bus, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, relay.BinaryMessage{Data: []byte(`{"a":1}`)}, got[0])

	got = nil
	n, err = publishLines(strings.NewReader(`{"c":3}`), bus, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, relay.TextMessage{Data: `{"c":3}`}, got[0])
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortID("0123abcd-ffff"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestIngestWritesCacheFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	input := filepath.Join(t.TempDir(), "packets.txt")
	require.NoError(t, os.WriteFile(input, []byte("{\"frame\":1}\nnot json\n{\"frame\":2}\n"), 0644))
	cachePath := filepath.Join(t.TempDir(), "out.cache")

	rootCmd.SetArgs([]string{"ingest", input, "--cache", cachePath, "--no-color", "--log-level", "error"})
	require.NoError(t, Execute())

	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "{\"frame\":1}\n\n\n{\"frame\":2}\n\n\n", string(data))

	_, err = os.Stat(filepath.Join(home, ".relaycache", "client_id"))
	assert.NoError(t, err)
}
