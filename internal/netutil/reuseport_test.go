package netutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReusePortListenConfigBindsUDP(t *testing.T) {
	lc := ReusePortListenConfig()
	require.NotNil(t, lc.Control)

	pc, err := lc.ListenPacket(context.Background(), "udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	require.NotEmpty(t, pc.LocalAddr().String())
}
