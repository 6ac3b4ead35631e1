package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversDecodedPackets(t *testing.T) {
	bus := NewBus()
	var got []Message
	handler := Handler(func(msg Message) { got = append(got, msg) })

	require.NoError(t, bus.SubscribeDecoded(handler))
	assert.True(t, bus.HasSubscribers())

	bus.PublishDecoded(BinaryMessage{Data: []byte(`{"a":1}`)})
	bus.PublishDecoded(TextMessage{Data: `{"b":2}`})

	require.Len(t, got, 2)
	assert.Equal(t, BinaryMessage{Data: []byte(`{"a":1}`)}, got[0])
	assert.Equal(t, TextMessage{Data: `{"b":2}`}, got[1])
	assert.Equal(t, 7, got[1].Len())

	require.NoError(t, bus.UnsubscribeDecoded(handler))
	assert.False(t, bus.HasSubscribers())

	bus.PublishDecoded(TextMessage{Data: "{}"})
	assert.Len(t, got, 2)
}

func TestUnsubscribeUnknownHandler(t *testing.T) {
	bus := NewBus()
	err := bus.UnsubscribeDecoded(func(Message) {})
	assert.Error(t, err)
}

func TestConnectorFunc(t *testing.T) {
	var host string
	c := ConnectorFunc(func(h string) error {
		host = h
		return errors.New("refused")
	})
	err := c.Connect("relay.local")
	assert.EqualError(t, err, "refused")
	assert.Equal(t, "relay.local", host)
}
