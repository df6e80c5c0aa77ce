package handshake

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/nzconn/nzgo/internal/wire"
)

// authentication request/response codes from spec §4.4.
const (
	authAlreadyAuthenticated = 0
	authPlainPassword        = 3
	authSaltedMD5            = 5
	authSaltedSHA256         = 6
)

// authenticate runs phase 3: read the server's authentication challenge and
// respond with the credential it demands. The server's acknowledgment of
// the credential is consumed later, in the completion drain (phase 4).
func (d *Driver) authenticate(password string) error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b == 'N' {
		// An additional acknowledgment byte; the real message follows.
		b, err = d.readByte()
		if err != nil {
			return err
		}
	}
	if b != 'R' {
		return newErr(KindUnexpectedMessage, "expected authentication request 'R', got %q", string(b))
	}

	codeBuf, err := d.reader.ReadExact(4)
	if err != nil {
		return classifyWireErr(err)
	}
	code := binary.BigEndian.Uint32(codeBuf)

	switch code {
	case authAlreadyAuthenticated:
		d.authMethod = "none"
		return nil

	case authPlainPassword:
		d.authMethod = "plain"
		return wire.WriteCredentialFrame(d.transport, wire.NullTerminated(password))

	case authSaltedMD5:
		salt, err := d.reader.ReadExact(2)
		if err != nil {
			return classifyWireErr(err)
		}
		d.authMethod = "salted_md5"
		cred := saltedDigest(md5.New(), salt, password)
		return wire.WriteCredentialFrame(d.transport, wire.NullTerminated(cred))

	case authSaltedSHA256:
		salt, err := d.reader.ReadExact(2)
		if err != nil {
			return classifyWireErr(err)
		}
		d.authMethod = "salted_sha256"
		cred := saltedDigest(sha256.New(), salt, password)
		return wire.WriteCredentialFrame(d.transport, wire.NullTerminated(cred))

	default:
		return newErr(KindUnsupportedAuthMethod, "server demanded auth code %d", code)
	}
}

// digester is the subset of hash.Hash saltedDigest needs.
type digester interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// saltedDigest computes base64(digest(salt ∥ password)) with the trailing
// '=' padding stripped, per spec §4.4's salted MD5/SHA-256 schemes.
func saltedDigest(h digester, salt []byte, password string) string {
	h.Write(salt)
	h.Write([]byte(password))
	sum := h.Sum(nil)
	encoded := base64.StdEncoding.EncodeToString(sum)
	return strings.TrimRight(encoded, "=")
}
