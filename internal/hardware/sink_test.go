package hardware

import (
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen opens a UDP socket and returns it with a sink pointed at it.
func listen(t *testing.T) (net.PacketConn, *OSCSink) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	port := conn.LocalAddr().(*net.UDPAddr).Port
	return conn, NewOSCSink("127.0.0.1", port)
}

func receive(t *testing.T, conn net.PacketConn) *osc.Message {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	server := &osc.Server{}
	packet, err := server.ReceivePacket(conn)
	require.NoError(t, err)

	msg, ok := packet.(*osc.Message)
	require.True(t, ok, "expected an OSC message, got %T", packet)
	return msg
}

func TestOSCSink_SendCV(t *testing.T) {
	conn, sink := listen(t)

	err := sink.SendCV(CV{
		Route:     "es9out#1",
		Voltage:   89.0 / 127.0,
		Module:    "doorway",
		Instance:  1,
		Parameter: "threshold",
		Value:     89,
	})
	require.NoError(t, err)

	msg := receive(t, conn)
	assert.Equal(t, AddressCV, msg.Address)
	require.Len(t, msg.Arguments, 6)
	assert.Equal(t, "es9out#1", msg.Arguments[0])
	assert.InDelta(t, 89.0/127.0, msg.Arguments[1], 1e-6)
	assert.Equal(t, "doorway", msg.Arguments[2])
	assert.Equal(t, int32(1), msg.Arguments[3])
	assert.Equal(t, "threshold", msg.Arguments[4])
	assert.Equal(t, int32(89), msg.Arguments[5])

	assert.Equal(t, SinkStats{Sent: 1}, sink.Stats())
}

func TestOSCSink_SendRoute(t *testing.T) {
	conn, sink := listen(t)

	require.NoError(t, sink.SendRoute(true, "es9out#2", "topogram#1.gain"))
	msg := receive(t, conn)
	assert.Equal(t, AddressRouting, msg.Address)
	assert.Equal(t, []interface{}{"add", "es9out#2", "topogram#1.gain"}, msg.Arguments)

	require.NoError(t, sink.SendRoute(false, "es9out#2", ""))
	msg = receive(t, conn)
	assert.Equal(t, []interface{}{"remove", "es9out#2"}, msg.Arguments)
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink()
	require.NoError(t, sink.SendCV(CV{Route: "es9out#1", Module: "doorway", Instance: 1, Parameter: "threshold", Value: 3}))
	require.NoError(t, sink.SendRoute(true, "es9out#1", "doorway#1.threshold"))

	assert.Len(t, sink.Sent(), 1)
	assert.Equal(t, 1, sink.RouteUpdates())
}
