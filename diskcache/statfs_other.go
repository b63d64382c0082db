//go:build !unix

package diskcache

import "errors"

func availableBytes(dir string) (int64, error) {
	return 0, errors.New("free space probing not supported on this platform")
}
