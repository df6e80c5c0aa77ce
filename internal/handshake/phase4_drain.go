package handshake

import (
	"encoding/binary"
	"log/slog"
)

// maxServerErrorText bounds how much of an ErrorResponse's message we will
// read, per spec §4.5.
const maxServerErrorText = 2000

// drain runs phase 4: consume notices, backend-key data, and further
// authentication acknowledgments until the ready-for-query marker arrives.
// 'K', 'N' and unrecognised messages carry 8 leading filler bytes ('N' then
// a 4-byte length); 'R' carries only its 4-byte code, 'Z' nothing, and 'E' a
// null-terminated text. This framing is a quirk of this protocol (see DESIGN
// NOTES) and is handled here rather than by a generic Postgres message parser.
func (d *Driver) drain() error {
	for {
		msgType, err := d.readByte()
		if err != nil {
			return err
		}

		switch msgType {
		case 'R':
			codeBuf, err := d.reader.ReadExact(4)
			if err != nil {
				return classifyWireErr(err)
			}
			code := binary.BigEndian.Uint32(codeBuf)
			if code != 0 && d.debug {
				slog.Debug("handshake: non-ok authentication status during drain", "code", code)
			}

		case 'K':
			if _, err := d.reader.ReadExact(8); err != nil {
				return classifyWireErr(err)
			}
			pidBuf, err := d.reader.ReadExact(4)
			if err != nil {
				return classifyWireErr(err)
			}
			keyBuf, err := d.reader.ReadExact(4)
			if err != nil {
				return classifyWireErr(err)
			}
			d.backendPID = int32(binary.BigEndian.Uint32(pidBuf))
			d.backendSecret = int32(binary.BigEndian.Uint32(keyBuf))

		case 'N':
			if _, err := d.reader.ReadExact(8); err != nil {
				return classifyWireErr(err)
			}
			if _, err := d.reader.ReadExact(4); err != nil { // length, ignored
				return classifyWireErr(err)
			}

		case 'Z':
			return nil

		case 'E':
			text, err := d.readServerErrorText()
			if err != nil {
				return err
			}
			return ServerError(text)

		default:
			if _, err := d.reader.ReadExact(8); err != nil {
				return classifyWireErr(err)
			}
		}
	}
}

// readServerErrorText reads the server's ErrorResponse message, which is
// null-terminated rather than length-prefixed in this phase, bounded at
// maxServerErrorText bytes.
func (d *Driver) readServerErrorText() (string, error) {
	buf := make([]byte, 0, 64)
	for len(buf) < maxServerErrorText {
		b, err := d.reader.ReadExact(1)
		if err != nil {
			return "", classifyWireErr(err)
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), nil
}
