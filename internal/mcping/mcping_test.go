package mcping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, 127, 128, 255, 25565, 2097151, 2147483647, -1} {
		b := appendVarInt(nil, v)
		got, err := readVarInt(bytes.NewReader(b))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	assert.Len(t, appendVarInt(nil, -1), 5)
	_, err := readVarInt(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}))
	assert.ErrorIs(t, err, errVarIntTooBig)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "plain", describe(json.RawMessage(`"plain"`)))
	assert.Equal(t, "Hello world!", describe(json.RawMessage(`{"text":"Hello ","extra":[{"text":"world"},{"text":"!"}]}`)))
	assert.Equal(t, "", describe(nil))
}

// serveStatus answers one status handshake on ln the way a game server does.
func serveStatus(t *testing.T, ln net.Listener, status string, answerPing bool) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	hs, err := readPacket(r, 0x00)
	if err != nil {
		t.Errorf("handshake: %v", err)
		return
	}
	hr := bytes.NewReader(hs)
	if _, err := readVarInt(hr); err != nil { // protocol
		t.Errorf("protocol: %v", err)
		return
	}
	n, _ := readVarInt(hr)
	host := make([]byte, n)
	_, _ = io.ReadFull(hr, host)
	var port uint16
	_ = binary.Read(hr, binary.BigEndian, &port)
	next, _ := readVarInt(hr)
	if next != 1 {
		t.Errorf("next state %d", next)
	}
	if _, err := readPacket(r, 0x00); err != nil {
		t.Errorf("status request: %v", err)
		return
	}
	_, _ = conn.Write(packet(0x00, appendString(nil, status)))
	if !answerPing {
		return
	}
	ping, err := readPacket(r, 0x01)
	if err != nil {
		return
	}
	_, _ = conn.Write(packet(0x01, ping))
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestStatus(t *testing.T) {
	ln, port := listen(t)
	status := `{"version":{"name":"1.20.4","protocol":765},"players":{"max":20,"online":2,"sample":[{"name":"alex","id":"a"},{"name":"steve","id":"b"}]},"description":{"text":"A ","extra":[{"text":"craftd server"}]}}`
	go serveStatus(t, ln, status, true)

	c := &Client{Timeout: 2 * time.Second}
	res, err := c.Status(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	assert.Equal(t, "1.20.4", res.Version)
	assert.Equal(t, 765, res.Protocol)
	assert.Equal(t, "A craftd server", res.MOTD)
	assert.Equal(t, 2, res.PlayersOnline)
	assert.Equal(t, 20, res.PlayersMax)
	assert.Len(t, res.Sample, 2)
	assert.Greater(t, res.Latency, time.Duration(0))
}

func TestStatusWithoutPong(t *testing.T) {
	ln, port := listen(t)
	go serveStatus(t, ln, `{"version":{"name":"x"},"players":{"max":1,"online":0},"description":"hi"}`, false)

	var c Client
	res := c.Ping(context.Background(), "127.0.0.1", port)
	require.NotNil(t, res)
	assert.Equal(t, "hi", res.MOTD)
	assert.Zero(t, res.Latency)
}

func TestPingUnreachableIsNil(t *testing.T) {
	ln, port := listen(t)
	_ = ln.Close()
	c := &Client{Timeout: 300 * time.Millisecond}
	assert.Nil(t, c.Ping(context.Background(), "127.0.0.1", port))
}

func TestPingGarbageIsNil(t *testing.T) {
	ln, port := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		_ = conn.Close()
	}()
	c := &Client{Timeout: 500 * time.Millisecond}
	assert.Nil(t, c.Ping(context.Background(), "127.0.0.1", port))
}

func TestQuery(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	go func() {
		buf := make([]byte, 2048)
		// handshake
		n, addr, err := pc.ReadFrom(buf)
		if err != nil || n < 7 {
			return
		}
		session := append([]byte{}, buf[3:7]...)
		resp := append([]byte{queryHandshake}, session...)
		resp = append(resp, []byte(strconv.Itoa(9513307))...)
		resp = append(resp, 0)
		_, _ = pc.WriteTo(resp, addr)

		// full stat
		n, addr, err = pc.ReadFrom(buf)
		if err != nil || n < 15 {
			return
		}
		if binary.BigEndian.Uint32(buf[7:11]) != 9513307 {
			return
		}
		out := append([]byte{queryStat}, session...)
		out = append(out, []byte("splitnum\x00\x80\x00")...)
		for _, kv := range [][2]string{
			{"hostname", "A craftd server"}, {"gametype", "SMP"}, {"game_id", "MINECRAFT"},
			{"version", "1.20.4"}, {"plugins", ""}, {"map", "world"},
			{"numplayers", "2"}, {"maxplayers", "20"}, {"hostport", "25565"}, {"hostip", "127.0.0.1"},
		} {
			out = append(out, kv[0]...)
			out = append(out, 0)
			out = append(out, kv[1]...)
			out = append(out, 0)
		}
		out = append(out, 0)
		out = append(out, []byte("\x01player_\x00\x00")...)
		out = append(out, []byte("alex\x00steve\x00\x00")...)
		_, _ = pc.WriteTo(out, addr)
	}()

	c := &Client{Timeout: 2 * time.Second}
	res, err := c.FullStat(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	assert.Equal(t, &QueryResult{
		MOTD: "A craftd server", GameType: "SMP", Map: "world", Players: 2, MaxPlayers: 20,
		PlayerNames: []string{"alex", "steve"}, Version: "1.20.4",
	}, res)
}

func TestParseFullStatRejectsShort(t *testing.T) {
	_, err := parseFullStat([]byte{0x00, 1, 2})
	assert.Error(t, err)
}
