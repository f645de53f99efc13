package mcping

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// QueryResult is the full-stat answer of the query protocol.
type QueryResult struct {
	MOTD        string   `json:"motd"`
	GameType    string   `json:"game_type"`
	Map         string   `json:"map"`
	Players     int      `json:"players"`
	MaxPlayers  int      `json:"max_players"`
	PlayerNames []string `json:"player_names"`
	Version     string   `json:"version"`
	Plugins     string   `json:"plugins,omitempty"`
}

const (
	queryHandshake = 0x09
	queryStat      = 0x00
	sessionMask    = 0x0F0F0F0F
)

var queryMagic = []byte{0xFE, 0xFD}

// Query returns the full stat of the server or nil when it did not answer.
func (c *Client) Query(ctx context.Context, host string, port int) *QueryResult {
	res, err := c.FullStat(ctx, host, port)
	if err != nil {
		slog.Debug("query failed", "host", host, "port", port, "error", err)
		return nil
	}
	return res
}

// FullStat performs the challenge handshake and the full stat request.
func (c *Client) FullStat(ctx context.Context, host string, port int) (*QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	session := int32(1) & sessionMask
	req := append([]byte{}, queryMagic...)
	req = append(req, queryHandshake)
	req = binary.BigEndian.AppendUint32(req, uint32(session))
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 6 || buf[0] != queryHandshake {
		return nil, errors.New("bad handshake response")
	}
	token, err := strconv.ParseInt(string(bytes.TrimRight(buf[5:n], "\x00")), 10, 32)
	if err != nil {
		return nil, err
	}

	req = append([]byte{}, queryMagic...)
	req = append(req, queryStat)
	req = binary.BigEndian.AppendUint32(req, uint32(session))
	req = binary.BigEndian.AppendUint32(req, uint32(int32(token)))
	req = append(req, 0, 0, 0, 0)
	if _, err := conn.Write(req); err != nil {
		return nil, err
	}
	n, err = conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return parseFullStat(buf[:n])
}

// parseFullStat decodes: type(1) session(4) padding(11) k\0v\0... \0
// padding(10) name\0... \0
func parseFullStat(b []byte) (*QueryResult, error) {
	if len(b) < 16 || b[0] != queryStat {
		return nil, errors.New("bad full stat response")
	}
	rest := b[16:]
	kv := make(map[string]string)
	for {
		key, r, ok := cutNul(rest)
		if !ok {
			return nil, errors.New("truncated key/value section")
		}
		rest = r
		if key == "" {
			break
		}
		val, r, ok := cutNul(rest)
		if !ok {
			return nil, errors.New("truncated key/value section")
		}
		rest = r
		kv[key] = val
	}
	res := &QueryResult{
		MOTD:       kv["hostname"],
		GameType:   kv["gametype"],
		Map:        kv["map"],
		Version:    kv["version"],
		Plugins:    kv["plugins"],
		Players:    atoi(kv["numplayers"]),
		MaxPlayers: atoi(kv["maxplayers"]),
	}
	if len(rest) >= 10 {
		rest = rest[10:]
		for {
			name, r, ok := cutNul(rest)
			if !ok || name == "" {
				break
			}
			res.PlayerNames = append(res.PlayerNames, name)
			rest = r
		}
	}
	return res, nil
}

func cutNul(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
