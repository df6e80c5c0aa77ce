package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Opcode identifies the 16-bit handshake frame type carried after the
// length prefix. See spec §4.3.
type Opcode int16

const (
	OpClientBegin       Opcode = 1
	OpDB                Opcode = 2
	OpUser              Opcode = 3
	OpOptions           Opcode = 4
	OpRemotePID         Opcode = 6
	OpClientType        Opcode = 8
	OpProtocol          Opcode = 9
	OpSSLNegotiate      Opcode = 11
	OpSSLConnect        Opcode = 12
	OpAppName           Opcode = 13
	OpClientOS          Opcode = 14
	OpClientHostName    Opcode = 15
	OpClientOSUser      Opcode = 16
	OpVarlena64Enabled  Opcode = 17
	OpClientDone        Opcode = 1000
)

// ClientTypeValue is the CLIENT_TYPE value this driver announces.
const ClientTypeValue int16 = 15

// WriteFrame writes an opcoded handshake frame: len(int32 BE) ∥ opcode(int16
// BE) ∥ body, where len counts itself plus the opcode plus the body.
func WriteFrame(conn net.Conn, op Opcode, body []byte) error {
	total := 4 + 2 + len(body)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint16(buf[4:6], uint16(op))
	copy(buf[6:], body)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("wire: writing opcode %d frame: %w", op, err)
	}
	return nil
}

// WriteCredentialFrame writes the unopcoded len∥body frame used to carry an
// authentication response (see spec §4.4): no opcode precedes the body.
func WriteCredentialFrame(conn net.Conn, body []byte) error {
	total := 4 + len(body)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	copy(buf[4:], body)
	if _, err := conn.Write(buf); err != nil {
		return fmt.Errorf("wire: writing credential frame: %w", err)
	}
	return nil
}

// NullTerminated appends a trailing 0x00 to a UTF-8 string body.
func NullTerminated(s string) []byte {
	return append([]byte(s), 0x00)
}

// Int16Body encodes a single big-endian int16 body.
func Int16Body(v int16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(v))
	return buf
}

// Int32Body encodes a single big-endian int32 body.
func Int32Body(v int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return buf
}

// Protocol2Body encodes the PROTOCOL opcode body: int16 p1 ∥ int16 p2.
func Protocol2Body(p1, p2 int16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(p1))
	binary.BigEndian.PutUint16(buf[2:4], uint16(p2))
	return buf
}
