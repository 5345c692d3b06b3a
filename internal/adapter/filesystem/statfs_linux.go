//go:build linux

package filesystem

import "golang.org/x/sys/unix"

// Pseudo filesystems that can be mounted outside the usual locations
var pseudoFSMagic = map[int64]struct{}{
	unix.PROC_SUPER_MAGIC:   {},
	unix.SYSFS_MAGIC:        {},
	unix.DEVPTS_SUPER_MAGIC: {},
	unix.CGROUP_SUPER_MAGIC: {},
}

func onPseudoFS(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	_, ok := pseudoFSMagic[int64(st.Type)]
	return ok
}
