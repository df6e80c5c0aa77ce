// Package handshake implements the client side of the NPS connection
// handshake: a stateful, version-negotiating protocol that turns a raw TCP
// connection into a session ready for query traffic.
package handshake

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/nzconn/nzgo/internal/wire"
)

// SecurityLevel expresses the client's TLS preference for phase 2's
// negotiation, per spec §4.3(c).
type SecurityLevel int32

const (
	SecurityPreferredUnsecured SecurityLevel = 0
	SecurityOnlyUnsecured      SecurityLevel = 1
	SecurityPreferredSecured   SecurityLevel = 2
	SecurityOnlySecured        SecurityLevel = 3
)

// TLSConfig carries the optional CA/certificate/key material and the
// peer-verification policy used for the in-band TLS upgrade in phase 2(c).
type TLSConfig struct {
	RootCAs            *x509.CertPool
	Certificates       []tls.Certificate
	ServerName         string
	InsecureSkipVerify bool
}

// Options configures a Driver beyond the transport and TLS material.
// The client identity fields are snapshotted at construction time so a
// Driver's behavior is deterministic across repeated Startup calls and in
// tests; leave them empty to read from the environment.
type Options struct {
	AppName      string
	Debug        bool
	ClientOS     string
	ClientHost   string
	ClientOSUser string
	ReadTimeout  time.Duration
}

// Result is returned by a successful Startup: the (possibly TLS-upgraded)
// transport, any bytes read ahead past the ready-for-query marker, and the
// negotiated protocol versions.
type Result struct {
	Transport       net.Conn
	RemainingBuffer []byte
	HSVersion       int
	Protocol1       int
	Protocol2       int
	BackendPID      int32
	BackendSecret   int32
	AuthMethod      string
}

// Driver is the handshake state machine, ephemeral for a single connection
// attempt. It is the sole reader and writer of its transport for its entire
// lifetime; see spec §5 for the concurrency model.
type Driver struct {
	transport net.Conn
	reader    *wire.ByteReader

	hsVersion int
	protocol1 int
	protocol2 int

	clientOS     string
	clientHost   string
	clientOSUser string
	appName      string

	tlsConfig *TLSConfig
	debug     bool

	backendPID    int32
	backendSecret int32
	authMethod    string
}

// NewDriver creates a Driver for one connection attempt over transport.
// tlsConfig may be nil if the caller never intends to negotiate TLS.
func NewDriver(transport net.Conn, tlsConfig *TLSConfig, opts Options) *Driver {
	reader := wire.NewByteReader(transport)
	if opts.ReadTimeout > 0 {
		reader.SetTimeout(opts.ReadTimeout)
	}

	d := &Driver{
		transport:    transport,
		reader:       reader,
		tlsConfig:    tlsConfig,
		debug:        opts.Debug,
		appName:      opts.AppName,
		clientOS:     opts.ClientOS,
		clientHost:   opts.ClientHost,
		clientOSUser: opts.ClientOSUser,
	}

	if d.appName == "" {
		d.appName = defaultAppName()
	}
	if d.clientOS == "" {
		d.clientOS = defaultClientOS()
	}
	if d.clientHost == "" {
		d.clientHost = defaultClientHost()
	}
	if d.clientOSUser == "" {
		d.clientOSUser = defaultClientOSUser()
	}

	return d
}

func defaultAppName() string {
	exe, err := os.Executable()
	if err != nil {
		if len(os.Args) > 0 {
			return filepath.Base(os.Args[0])
		}
		return "nzgo"
	}
	return filepath.Base(exe)
}

func defaultClientOS() string {
	return runtimeGOOS()
}

func defaultClientHost() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func defaultClientOSUser() string {
	return currentOSUser()
}

// Startup drives the connection through all four handshake phases and
// returns the negotiated session, or the first Error encountered. On
// failure the transport is left for the caller to close; the driver never
// retries internally.
func (d *Driver) Startup(database string, securityLevel SecurityLevel, user, password, pgOptions string) (*Result, error) {
	if err := d.negotiateVersion(); err != nil {
		return nil, err
	}

	if err := d.selectDatabase(database); err != nil {
		return nil, err
	}

	if err := d.advanceProtocol(); err != nil {
		return nil, err
	}

	if err := d.negotiateTLS(securityLevel); err != nil {
		return nil, err
	}

	if err := d.streamMetadata(user, pgOptions); err != nil {
		return nil, err
	}

	if err := d.authenticate(password); err != nil {
		return nil, err
	}

	if err := d.drain(); err != nil {
		return nil, err
	}

	return &Result{
		Transport:       d.transport,
		RemainingBuffer: d.reader.Drain(),
		HSVersion:       d.hsVersion,
		Protocol1:       d.protocol1,
		Protocol2:       d.protocol2,
		BackendPID:      d.backendPID,
		BackendSecret:   d.backendSecret,
		AuthMethod:      d.authMethod,
	}, nil
}

// ProbeVersion runs phase 1 only: the connection-protocol version walk. It
// leaves the transport mid-handshake (the caller should close it, not reuse
// it for a query) and exists so a health check can confirm a server is
// accepting handshakes without paying for the full four-phase cost.
func (d *Driver) ProbeVersion() (hsVersion int, err error) {
	if err := d.negotiateVersion(); err != nil {
		return 0, err
	}
	return d.hsVersion, nil
}

// readByte reads exactly one byte, translating transport-level wire errors
// into the handshake Kind taxonomy.
func (d *Driver) readByte() (byte, error) {
	b, err := d.reader.ReadExact(1)
	if err != nil {
		return 0, classifyWireErr(err)
	}
	return b[0], nil
}

func classifyWireErr(err error) *Error {
	switch err {
	case wire.ErrTimeout:
		return &Error{Kind: KindTimeout, Err: err}
	case wire.ErrTransportClosed:
		return &Error{Kind: KindTransportClosed, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}
