package handshake

import "github.com/nzconn/nzgo/internal/wire"

// maxVersionAttempts bounds the counter-offer loop defensively (spec §4.2).
// Each 'M' strictly lowers the version and 2 is the floor, so the loop
// cannot legitimately exceed 5 round-trips (6→5→4→3→2); one extra attempt
// covers the final acceptance/rejection byte.
const maxVersionAttempts = 6

// negotiateVersion runs phase 1: agree on a connection-protocol version
// starting from 6 and walking down on each server counter-offer.
func (d *Driver) negotiateVersion() error {
	version := 6

	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		if err := wire.WriteFrame(d.transport, wire.OpClientBegin, wire.Int16Body(int16(version))); err != nil {
			return wrapErr(KindUnknown, err)
		}

		b, err := d.readByte()
		if err != nil {
			return err
		}

		switch b {
		case 'N':
			d.hsVersion = version
			d.protocol2 = 0
			return nil

		case 'M':
			digit, err := d.readByte()
			if err != nil {
				return err
			}
			if digit < '2' || digit > '5' {
				return newErr(KindUnsupportedVersion, "server counter-offered version %q", string(digit))
			}
			version = int(digit - '0')
			continue

		case 'E':
			return newErr(KindBadAttributeValue, "server rejected CLIENT_BEGIN(%d)", version)

		default:
			return newErr(KindBadProtocol, "unexpected byte %q during version negotiation", string(b))
		}
	}

	return newErr(KindBadProtocol, "version negotiation did not converge after %d attempts", maxVersionAttempts)
}
