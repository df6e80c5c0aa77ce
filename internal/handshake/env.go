package handshake

import (
	"os/user"
	"runtime"
)

// runtimeGOOS returns the host OS name announced as CLIENT_OS. Snapshotted
// once at driver construction per spec §9's ambient-state design note.
func runtimeGOOS() string {
	return runtime.GOOS
}

// currentOSUser returns the OS user running the client process, announced
// as CLIENT_OS_USER.
func currentOSUser() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return "unknown"
	}
	return u.Username
}
