//go:build windows

package pion

import "fmt"

// dropPrivileges is not supported on Windows, which has no uid/gid
// model to drop to.
func dropPrivileges(username string) error {
	return fmt.Errorf("pion: privilege drop is not supported on windows")
}
