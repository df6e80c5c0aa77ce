package handshake

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/nzconn/nzgo/internal/wire"
)

// selectDatabase sends the DB opcode when a database name was supplied,
// per spec §4.3(a). It is skipped entirely for an empty name.
func (d *Driver) selectDatabase(database string) error {
	if database == "" {
		return nil
	}

	if err := wire.WriteFrame(d.transport, wire.OpDB, wire.NullTerminated(database)); err != nil {
		return wrapErr(KindUnknown, err)
	}

	b, err := d.readByte()
	if err != nil {
		return err
	}
	switch b {
	case 'N':
		return nil
	case 'E':
		return newErr(KindDatabaseRejected, "server rejected database %q", database)
	default:
		return newErr(KindBadProtocol, "unexpected byte %q after DB frame", string(b))
	}
}

// advanceProtocol steps the sub-protocol walk 5→4→3 per spec §4.3(b).
// protocol2 == 0 is the "not yet advanced" sentinel left by phase 1.
func (d *Driver) advanceProtocol() error {
	switch d.protocol2 {
	case 0:
		d.protocol2 = 5
	case 5:
		d.protocol2 = 4
	case 4:
		d.protocol2 = 3
	default:
		return newErr(KindProtocolExhausted, "sub-protocol walk exhausted at %d", d.protocol2)
	}
	d.protocol1 = 3
	return nil
}

// negotiateTLS runs phase 2(c): send the requested security level, honor
// the server's accept/refuse byte against the client's own policy, and
// perform the in-band TLS upgrade when both sides agree to it.
func (d *Driver) negotiateTLS(level SecurityLevel) error {
	if err := wire.WriteFrame(d.transport, wire.OpSSLNegotiate, wire.Int32Body(int32(level))); err != nil {
		return wrapErr(KindUnknown, err)
	}

	b, err := d.readByte()
	if err != nil {
		return err
	}

	switch b {
	case 'N':
		if level == SecurityOnlySecured {
			return newErr(KindTLSRequired, "server refused TLS but security level requires it")
		}
		return nil

	case 'S':
		if level == SecurityOnlyUnsecured {
			return newErr(KindTLSRefused, "server required TLS but security level forbids it")
		}
		return d.upgradeTLS(level)

	case 'E':
		return newErr(KindTLSRejected, "server rejected SSL_NEGOTIATE(%d)", level)

	default:
		return newErr(KindBadProtocol, "unexpected byte %q after SSL_NEGOTIATE", string(b))
	}
}

// upgradeTLS sends SSL_CONNECT and performs the in-band TLS handshake over
// the same transport, replacing the driver's transport and re-wiring its
// byte reader to the new secure stream.
func (d *Driver) upgradeTLS(level SecurityLevel) error {
	if err := wire.WriteFrame(d.transport, wire.OpSSLConnect, wire.Int32Body(int32(level))); err != nil {
		return wrapErr(KindUnknown, err)
	}

	// The protocol guarantees the server sends no further cleartext bytes
	// after 'S'; a non-empty buffer here means the framing has desynced.
	if err := d.reader.AssertEmpty("TLS upgrade"); err != nil {
		return wrapErr(KindTLSHandshakeFailed, err)
	}

	cfg := d.buildTLSConfig()
	tlsConn := tls.Client(d.transport, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return wrapErr(KindTLSHandshakeFailed, fmt.Errorf("tls handshake: %w", err))
	}

	d.transport = tlsConn
	d.reader.Rewire(tlsConn)
	return nil
}

func (d *Driver) buildTLSConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if d.tlsConfig != nil {
		cfg.RootCAs = d.tlsConfig.RootCAs
		cfg.Certificates = d.tlsConfig.Certificates
		cfg.ServerName = d.tlsConfig.ServerName
		cfg.InsecureSkipVerify = d.tlsConfig.InsecureSkipVerify
	}
	return cfg
}

// metadataFrame pairs an opcode with the body it sends and whether the
// protocol expects an 'N' acknowledgment for it (every frame except
// CLIENT_DONE does).
type metadataFrame struct {
	op       wire.Opcode
	body     []byte
	needsAck bool
}

// streamMetadata sends the version-specific metadata sequence from spec
// §4.3(d), modeled as a single list with the 4/6-only fields appended
// conditionally, per the DESIGN NOTES' guidance against two parallel
// functions.
func (d *Driver) streamMetadata(user, pgOptions string) error {
	frames := d.buildMetadataFrames(user, pgOptions)

	for _, f := range frames {
		if err := wire.WriteFrame(d.transport, f.op, f.body); err != nil {
			return wrapErr(KindUnknown, err)
		}
		if !f.needsAck {
			continue
		}

		b, err := d.readByte()
		if err != nil {
			return err
		}
		switch b {
		case 'N':
			continue
		case 'E':
			return newErr(KindBadAttributeValue, "server rejected metadata opcode %d", f.op)
		default:
			return newErr(KindBadProtocol, "unexpected byte %q acknowledging opcode %d", string(b), f.op)
		}
	}

	return nil
}

func (d *Driver) buildMetadataFrames(user, pgOptions string) []metadataFrame {
	var frames []metadataFrame
	ack := func(op wire.Opcode, body []byte) metadataFrame {
		return metadataFrame{op: op, body: body, needsAck: true}
	}

	extended := d.hsVersion == 4 || d.hsVersion == 6

	frames = append(frames, ack(wire.OpUser, wire.NullTerminated(user)))

	if extended {
		frames = append(frames,
			ack(wire.OpAppName, wire.NullTerminated(d.appName)),
			ack(wire.OpClientOS, wire.NullTerminated(d.clientOS)),
			ack(wire.OpClientHostName, wire.NullTerminated(d.clientHost)),
			ack(wire.OpClientOSUser, wire.NullTerminated(d.clientOSUser)),
		)
	}

	frames = append(frames, ack(wire.OpProtocol, wire.Protocol2Body(int16(d.protocol1), int16(d.protocol2))))
	frames = append(frames, ack(wire.OpRemotePID, wire.Int32Body(int32(os.Getpid()))))

	if pgOptions != "" {
		frames = append(frames, ack(wire.OpOptions, wire.NullTerminated(pgOptions)))
	}

	frames = append(frames, ack(wire.OpClientType, wire.Int16Body(wire.ClientTypeValue)))

	if d.hsVersion == 5 || d.hsVersion == 6 {
		frames = append(frames, ack(wire.OpVarlena64Enabled, wire.Int16Body(1)))
	}

	frames = append(frames, metadataFrame{op: wire.OpClientDone, body: nil, needsAck: false})

	return frames
}
