package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendAndReceiveRoundTrip(t *testing.T) {
	server, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	serverAddr := server.conn.LocalAddr().(*net.UDPAddr)
	clientAddr := client.conn.LocalAddr().(*net.UDPAddr)
	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverAddr.Port}
	clientLoopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: clientAddr.Port}

	server.RegisterPeer(clientLoopback)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, client.Send(loopback, payload))

	got, err := server.Receive(net.IPv4(127, 0, 0, 1), time.Second)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReceiveTimesOutWithNoTraffic(t *testing.T) {
	ep, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer ep.Close()

	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}
	ep.RegisterPeer(peer)

	_, err = ep.Receive(peer.IP, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrReceiveTimeout)
}

func TestReceiveFromUnknownPeer(t *testing.T) {
	ep, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer ep.Close()

	_, err = ep.Receive(net.IPv4(192, 168, 1, 1), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func TestUnregisteredPeerTrafficIsDropped(t *testing.T) {
	server, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewEndpoint(0, nil, nil)
	require.NoError(t, err)
	defer client.Close()

	serverAddr := server.conn.LocalAddr().(*net.UDPAddr)
	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: serverAddr.Port}

	// No RegisterPeer call: the datagram must be dropped, not delivered.
	require.NoError(t, client.Send(loopback, []byte{0x01}))
	time.Sleep(50 * time.Millisecond)

	_, err = server.Receive(net.IPv4(127, 0, 0, 1), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrUnknownPeer)
}
