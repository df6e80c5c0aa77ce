package handshake

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"
)

// --- raw frame helpers for the mock server side ---

func readFrameHeader(t *testing.T, conn net.Conn) (opcode int16, body []byte) {
	t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		t.Fatalf("reading frame length: %v", err)
	}
	total := binary.BigEndian.Uint32(lenBuf)

	opBuf := make([]byte, 2)
	if _, err := io.ReadFull(conn, opBuf); err != nil {
		t.Fatalf("reading frame opcode: %v", err)
	}
	opcode = int16(binary.BigEndian.Uint16(opBuf))

	bodyLen := int(total) - 4 - 2
	if bodyLen < 0 {
		t.Fatalf("negative body length in frame: total=%d", total)
	}
	body = make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Fatalf("reading frame body: %v", err)
		}
	}
	return opcode, body
}

func readCredentialFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		t.Fatalf("reading credential frame length: %v", err)
	}
	total := binary.BigEndian.Uint32(lenBuf)
	body := make([]byte, int(total)-4)
	if len(body) > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Fatalf("reading credential frame body: %v", err)
		}
	}
	return body
}

func writeBytes(t *testing.T, conn net.Conn, b ...byte) {
	t.Helper()
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("writing bytes: %v", err)
	}
}

func writeBackendKeyData(t *testing.T, conn net.Conn, pid, key uint32) {
	t.Helper()
	buf := make([]byte, 1+8+4+4)
	buf[0] = 'K'
	pidBuf := buf[9:13]
	keyBuf := buf[13:17]
	binary.BigEndian.PutUint32(pidBuf, pid)
	binary.BigEndian.PutUint32(keyBuf, key)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("writing backend key data: %v", err)
	}
}

func writeAuthStatus(t *testing.T, conn net.Conn, code uint32) {
	t.Helper()
	buf := make([]byte, 5)
	buf[0] = 'R'
	binary.BigEndian.PutUint32(buf[1:5], code)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("writing auth status: %v", err)
	}
}

func expectMetadataSequence(t *testing.T, conn net.Conn, opcodes []int16) {
	t.Helper()
	for _, want := range opcodes {
		op, _ := readFrameHeader(t, conn)
		if op != want {
			t.Fatalf("expected opcode %d, got %d", want, op)
		}
		writeBytes(t, conn, 'N')
	}
	// CLIENT_DONE, unacknowledged.
	op, _ := readFrameHeader(t, conn)
	if op != 1000 {
		t.Fatalf("expected CLIENT_DONE (1000), got %d", op)
	}
}

// --- scenario 1: unsecured CP6, plain auth ---

func TestStartupUnsecuredCP6PlainAuth(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)

		op, body := readFrameHeader(t, serverConn) // CLIENT_BEGIN(6)
		if op != 1 || int16(binary.BigEndian.Uint16(body)) != 6 {
			t.Errorf("expected CLIENT_BEGIN(6), got op=%d body=%v", op, body)
		}
		writeBytes(t, serverConn, 'N')

		op, body = readFrameHeader(t, serverConn) // DB("mydb")
		if op != 2 || string(body) != "mydb\x00" {
			t.Errorf("expected DB(mydb), got op=%d body=%q", op, body)
		}
		writeBytes(t, serverConn, 'N')

		op, _ = readFrameHeader(t, serverConn) // SSL_NEGOTIATE(0)
		if op != 11 {
			t.Errorf("expected SSL_NEGOTIATE, got %d", op)
		}
		writeBytes(t, serverConn, 'N')

		expectMetadataSequence(t, serverConn, []int16{3, 13, 14, 15, 16, 9, 6, 8, 17})

		writeAuthStatus(t, serverConn, 3) // request plain password

		cred := readCredentialFrame(t, serverConn)
		if string(cred) != "pw\x00" {
			t.Errorf("expected password credential 'pw', got %q", cred)
		}

		writeAuthStatus(t, serverConn, 0)
		writeBackendKeyData(t, serverConn, 42, 99)
		writeBytes(t, serverConn, 'Z')
	}()

	d := NewDriver(clientConn, nil, Options{AppName: "testapp", ClientOS: "linux", ClientHost: "host1", ClientOSUser: "tester"})
	res, err := d.Startup("mydb", SecurityPreferredUnsecured, "alice", "pw", "")
	<-done

	if err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	if res.HSVersion != 6 {
		t.Errorf("expected hsVersion 6, got %d", res.HSVersion)
	}
	if res.Protocol1 != 3 || res.Protocol2 != 5 {
		t.Errorf("expected protocol 3.5, got %d.%d", res.Protocol1, res.Protocol2)
	}
	if len(res.RemainingBuffer) != 0 {
		t.Errorf("expected empty remaining buffer, got %d bytes", len(res.RemainingBuffer))
	}
	if res.BackendPID != 42 || res.BackendSecret != 99 {
		t.Errorf("expected backend key data 42/99, got %d/%d", res.BackendPID, res.BackendSecret)
	}
}

// --- scenario 2: CP2 via counter-offer ---

func TestStartupCP2CounterOffer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)

		op, body := readFrameHeader(t, serverConn) // CLIENT_BEGIN(6)
		if op != 1 || int16(binary.BigEndian.Uint16(body)) != 6 {
			t.Errorf("expected CLIENT_BEGIN(6), got op=%d body=%v", op, body)
		}
		writeBytes(t, serverConn, 'M', '2')

		op, body = readFrameHeader(t, serverConn) // CLIENT_BEGIN(2)
		if op != 1 || int16(binary.BigEndian.Uint16(body)) != 2 {
			t.Errorf("expected CLIENT_BEGIN(2), got op=%d body=%v", op, body)
		}
		writeBytes(t, serverConn, 'N')

		op, _ = readFrameHeader(t, serverConn) // SSL_NEGOTIATE (no DB supplied)
		if op != 11 {
			t.Errorf("expected SSL_NEGOTIATE immediately after no DB, got %d", op)
		}
		writeBytes(t, serverConn, 'N')

		expectMetadataSequence(t, serverConn, []int16{3, 9, 6, 8})

		writeAuthStatus(t, serverConn, 0)
		writeBytes(t, serverConn, 'Z')
	}()

	d := NewDriver(clientConn, nil, Options{ClientOS: "linux", ClientHost: "host1", ClientOSUser: "tester"})
	res, err := d.Startup("", SecurityPreferredUnsecured, "bob", "pw", "")
	<-done

	if err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	if res.HSVersion != 2 {
		t.Errorf("expected hsVersion 2, got %d", res.HSVersion)
	}
}

// --- scenario 3: MD5 salted auth ---

func TestStartupMD5SaltedAuth(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	salt := []byte{0xAB, 0xCD}

	done := make(chan struct{})
	go func() {
		defer close(done)

		readFrameHeader(t, serverConn) // CLIENT_BEGIN
		writeBytes(t, serverConn, 'N')
		readFrameHeader(t, serverConn) // SSL_NEGOTIATE (no DB)
		writeBytes(t, serverConn, 'N')
		expectMetadataSequence(t, serverConn, []int16{3, 13, 14, 15, 16, 9, 6, 8, 17})

		buf := make([]byte, 5+2)
		buf[0] = 'R'
		binary.BigEndian.PutUint32(buf[1:5], 5)
		copy(buf[5:7], salt)
		if _, err := serverConn.Write(buf); err != nil {
			t.Fatalf("writing auth challenge: %v", err)
		}

		cred := readCredentialFrame(t, serverConn)
		h := md5.New()
		h.Write(salt)
		h.Write([]byte("secret"))
		want := strings.TrimRight(base64.StdEncoding.EncodeToString(h.Sum(nil)), "=")
		if string(cred) != want+"\x00" {
			t.Errorf("expected credential %q, got %q", want, cred)
		}

		writeAuthStatus(t, serverConn, 0)
		writeBytes(t, serverConn, 'Z')
	}()

	d := NewDriver(clientConn, nil, Options{})
	_, err := d.Startup("", SecurityPreferredUnsecured, "carol", "secret", "")
	<-done

	if err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
}

// --- scenario 4: in-band TLS upgrade at level 3 ---

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestStartupTLSUpgradeLevel3(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	cert := selfSignedCert(t)

	done := make(chan struct{})
	go func() {
		defer close(done)

		readFrameHeader(t, serverConn) // CLIENT_BEGIN
		writeBytes(t, serverConn, 'N')

		op, body := readFrameHeader(t, serverConn) // SSL_NEGOTIATE(3), no DB supplied
		if op != 11 || binary.BigEndian.Uint32(body) != 3 {
			t.Errorf("expected SSL_NEGOTIATE(3), got op=%d body=%v", op, body)
		}
		writeBytes(t, serverConn, 'S')

		op, body = readFrameHeader(t, serverConn) // SSL_CONNECT(3)
		if op != 12 || binary.BigEndian.Uint32(body) != 3 {
			t.Errorf("expected SSL_CONNECT(3), got op=%d body=%v", op, body)
		}

		tlsServer := tls.Server(serverConn, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := tlsServer.Handshake(); err != nil {
			t.Errorf("server TLS handshake: %v", err)
			return
		}
		defer tlsServer.Close()

		op, _ = readFrameHeader(t, tlsServer) // USER, first post-TLS frame
		if op != 3 {
			t.Errorf("expected USER as first post-TLS frame, got %d", op)
		}
		writeBytes(t, tlsServer, 'N')

		for i := 0; i < 8; i++ {
			readFrameHeader(t, tlsServer)
			writeBytes(t, tlsServer, 'N')
		}
		readFrameHeader(t, tlsServer) // CLIENT_DONE

		writeAuthStatus(t, tlsServer, 0)
		writeBytes(t, tlsServer, 'Z')
	}()

	tlsCfg := &TLSConfig{InsecureSkipVerify: true}
	d := NewDriver(clientConn, tlsCfg, Options{})
	res, err := d.Startup("", SecurityOnlySecured, "dave", "pw", "")
	<-done

	if err != nil {
		t.Fatalf("Startup failed: %v", err)
	}
	if _, ok := res.Transport.(*tls.Conn); !ok {
		t.Errorf("expected transport to be upgraded to *tls.Conn")
	}
}

// --- scenario 5: error in completion drain ---

func TestStartupServerErrorDuringDrain(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)

		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'N')
		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'N')
		expectMetadataSequence(t, serverConn, []int16{3, 13, 14, 15, 16, 9, 6, 8, 17})

		writeAuthStatus(t, serverConn, 0)

		msg := "FATAL: database does not exist\x00"
		if _, err := serverConn.Write(append([]byte{'E'}, msg...)); err != nil {
			t.Fatalf("writing error response: %v", err)
		}
	}()

	d := NewDriver(clientConn, nil, Options{})
	_, err := d.Startup("", SecurityPreferredUnsecured, "eve", "pw", "")
	<-done

	if err == nil {
		t.Fatal("expected an error")
	}
	hsErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if hsErr.Kind != KindServerError {
		t.Errorf("expected KindServerError, got %v", hsErr.Kind)
	}
	if hsErr.Text != "FATAL: database does not exist" {
		t.Errorf("unexpected error text: %q", hsErr.Text)
	}
}

// --- scenario 6: read-ahead preservation ---

func TestStartupRemainingBufferPreserved(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	extra := []byte("S\x00\x00\x00\x15server_version\x00")

	done := make(chan struct{})
	go func() {
		defer close(done)

		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'N')
		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'N')
		expectMetadataSequence(t, serverConn, []int16{3, 13, 14, 15, 16, 9, 6, 8, 17})

		writeAuthStatus(t, serverConn, 0)
		// 'Z' concatenated with a subsequent message in one write, matching
		// the single-TCP-segment scenario from spec §8.
		if _, err := serverConn.Write(append([]byte{'Z'}, extra...)); err != nil {
			t.Fatalf("writing Z + extra: %v", err)
		}
	}()

	d := NewDriver(clientConn, nil, Options{})
	res, err := d.Startup("", SecurityPreferredUnsecured, "frank", "pw", "")
	<-done

	if err != nil {
		t.Fatalf("Startup failed: %v", err)
	}

	// RemainingBuffer is fixed when Startup returns, so this loop cannot add
	// to it; net.Pipe hands 'Z' and the trailing bytes to a single Read.
	deadline := time.Now().Add(time.Second)
	for len(res.RemainingBuffer) < len(extra) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if string(res.RemainingBuffer) != string(extra) {
		t.Errorf("expected remaining buffer %q, got %q", extra, res.RemainingBuffer)
	}
}

// --- boundary: UnsupportedVersion ---

func TestStartupUnsupportedVersionCounterOffer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'M', '1')
	}()

	d := NewDriver(clientConn, nil, Options{})
	_, err := d.Startup("", SecurityPreferredUnsecured, "gail", "pw", "")
	<-done

	hsErr, ok := err.(*Error)
	if !ok || hsErr.Kind != KindUnsupportedVersion {
		t.Fatalf("expected KindUnsupportedVersion, got %v", err)
	}
}

// --- boundary: security level 3 with 'N' reply yields TlsRequired ---

func TestStartupTLSRequiredViolation(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readFrameHeader(t, serverConn)
		writeBytes(t, serverConn, 'N')
		readFrameHeader(t, serverConn) // SSL_NEGOTIATE
		writeBytes(t, serverConn, 'N') // server refuses TLS
	}()

	d := NewDriver(clientConn, nil, Options{})
	_, err := d.Startup("", SecurityOnlySecured, "hank", "pw", "")
	<-done

	hsErr, ok := err.(*Error)
	if !ok || hsErr.Kind != KindTLSRequired {
		t.Fatalf("expected KindTLSRequired, got %v", err)
	}
}
