package stream

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedServerRoundTrip(t *testing.T) {
	e, err := StartEmbeddedServer(EmbeddedOptions{Name: "test"}, zerolog.Nop())
	require.NoError(t, err)
	defer e.Shutdown()

	sub, err := e.Client.SubscribeSync("ping")
	require.NoError(t, err)
	require.NoError(t, e.Client.Publish("ping", []byte("pong")))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(msg.Data))
	assert.NotEmpty(t, e.Addr())
}

func TestEmbeddedServerJetStream(t *testing.T) {
	e, err := StartEmbeddedServer(EmbeddedOptions{Name: "js", JetStream: true}, zerolog.Nop())
	require.NoError(t, err)
	store := e.tmpStore
	assert.DirExists(t, store)
	e.Shutdown()
	assert.NoDirExists(t, store)
}

func TestParseHostAndPort(t *testing.T) {
	h, p, err := parseHostAndPort("127.0.0.1:4222")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", h)
	assert.Equal(t, 4222, p)

	_, _, err = parseHostAndPort("localhost")
	assert.Error(t, err)
}
