//go:build !windows

package pion

import (
	"os/user"
	"strconv"
	"syscall"
)

// dropPrivileges switches the process's effective uid/gid to
// username's, once a privileged bind has already completed (spec
// §4.6 "acquire elevated privileges only for the bind call, then
// drop").
func dropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if err := syscall.Setgid(gid); err != nil {
		return err
	}
	return syscall.Setuid(uid)
}
