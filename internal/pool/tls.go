package pool

import (
	"github.com/nzconn/nzgo/internal/config"
	"github.com/nzconn/nzgo/internal/handshake"
)

func handshakeDefaultSecurityLevel() handshake.SecurityLevel {
	return handshake.SecurityPreferredSecured
}

// buildTLSConfig turns a profile's TLS fields into the material the
// handshake package needs for the in-band upgrade.
func buildTLSConfig(p config.ProfileConfig) *handshake.TLSConfig {
	return p.BuildTLSConfig()
}
