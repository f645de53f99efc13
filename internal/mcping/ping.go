// Package mcping talks to a running game server over its status handshake
// (TCP) and its optional query protocol (UDP).
//
// Failures are ordinary: a server that is starting, stopped or busy will not
// answer. The convenience entry points return nil instead of an error so
// callers can treat "no answer" as a value.
package mcping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds one full exchange.
	DefaultTimeout = 3 * time.Second
	// maxResponse caps the status JSON size.
	maxResponse = 1 << 20
	// protocolVersion -1 asks the server to report its own version.
	protocolVersion = -1
)

// Player is an entry of the status player sample.
type Player struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// PingResult is the decoded status response.
type PingResult struct {
	Version       string        `json:"version"`
	Protocol      int           `json:"protocol"`
	MOTD          string        `json:"motd"`
	PlayersOnline int           `json:"players_online"`
	PlayersMax    int           `json:"players_max"`
	Sample        []Player      `json:"sample,omitempty"`
	Favicon       string        `json:"favicon,omitempty"`
	Latency       time.Duration `json:"latency"`
}

type statusJSON struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int      `json:"max"`
		Online int      `json:"online"`
		Sample []Player `json:"sample"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
	Favicon     string          `json:"favicon"`
}

// chat is the rich text form a description may take.
type chat struct {
	Text  string `json:"text"`
	Extra []chat `json:"extra"`
}

func (c chat) flatten(sb *strings.Builder) {
	sb.WriteString(c.Text)
	for _, e := range c.Extra {
		e.flatten(sb)
	}
}

// describe turns a description that is either a string or a chat object
// into plain text.
func describe(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var c chat
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	var sb strings.Builder
	c.flatten(&sb)
	return sb.String()
}

// Client performs handshakes. The zero value is ready to use.
type Client struct {
	Timeout time.Duration
	Dialer  net.Dialer
}

func (c *Client) timeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Ping returns the server status or nil when the server did not answer.
func (c *Client) Ping(ctx context.Context, host string, port int) *PingResult {
	res, err := c.Status(ctx, host, port)
	if err != nil {
		slog.Debug("status handshake failed", "host", host, "port", port, "error", err)
		return nil
	}
	return res
}

// Status runs the status handshake followed by a ping/pong round trip.
func (c *Client) Status(ctx context.Context, host string, port int) (*PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var d net.Dialer
	if c != nil {
		d = c.Dialer
	}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	hs := appendVarInt(nil, protocolVersion)
	hs = appendString(hs, host)
	hs = binary.BigEndian.AppendUint16(hs, uint16(port))
	hs = appendVarInt(hs, 1)
	if _, err := conn.Write(append(packet(0x00, hs), packet(0x00, nil)...)); err != nil {
		return nil, err
	}

	r := bufio.NewReader(conn)
	body, err := readPacket(r, 0x00)
	if err != nil {
		return nil, err
	}
	br := bytes.NewReader(body)
	n, err := readVarInt(br)
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > maxResponse {
		return nil, fmt.Errorf("status length %d out of range", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, err
	}
	var st statusJSON
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	res := &PingResult{
		Version:       st.Version.Name,
		Protocol:      st.Version.Protocol,
		MOTD:          describe(st.Description),
		PlayersOnline: st.Players.Online,
		PlayersMax:    st.Players.Max,
		Sample:        st.Players.Sample,
		Favicon:       st.Favicon,
	}

	// latency; a server that answers status but not ping still counts
	sent := time.Now()
	payload := binary.BigEndian.AppendUint64(nil, uint64(sent.UnixMilli()))
	if _, err := conn.Write(packet(0x01, payload)); err == nil {
		if pong, err := readPacket(r, 0x01); err == nil && len(pong) == 8 {
			res.Latency = time.Since(sent)
		}
	}
	return res, nil
}

func readPacket(r *bufio.Reader, wantID int32) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 || int(length) > maxResponse {
		return nil, fmt.Errorf("packet length %d out of range", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	br := bytes.NewReader(buf)
	id, err := readVarInt(br)
	if err != nil {
		return nil, err
	}
	if id != wantID {
		return nil, errors.New("unexpected packet id " + strconv.Itoa(int(id)))
	}
	rest, _ := io.ReadAll(br)
	return rest, nil
}
