//go:build unix

package diskcache

import "golang.org/x/sys/unix"

// availableBytes reports the free space on the filesystem holding dir,
// used to auto-size the cache when no explicit bound is configured.
func availableBytes(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
