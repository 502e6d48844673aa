//go:build !windows

package qemuengine

import "syscall"

func execReplace(path string, args, env []string) error {
	return syscall.Exec(path, args, env)
}
