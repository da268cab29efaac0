//go:build !linux && !darwin && !freebsd && !openbsd && !windows

package serial

func newNativeHandle(Config) (Handle, error) {
	return nil, ErrPlatformUnsupported
}
