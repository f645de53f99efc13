package mcping

import (
	"errors"
	"io"
)

var errVarIntTooBig = errors.New("varint is too big")

func appendVarInt(b []byte, v int32) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(b, byte(u))
		}
		b = append(b, byte(u&0x7F|0x80))
		u >>= 7
	}
}

func readVarInt(r io.ByteReader) (int32, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			return int32(result), nil
		}
	}
	return 0, errVarIntTooBig
}

func appendString(b []byte, s string) []byte {
	b = appendVarInt(b, int32(len(s)))
	return append(b, s...)
}

// packet frames id and payload with a length prefix.
func packet(id int32, payload []byte) []byte {
	body := appendVarInt(nil, id)
	body = append(body, payload...)
	out := appendVarInt(nil, int32(len(body)))
	return append(out, body...)
}
