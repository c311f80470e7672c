package build

import "github.com/bitswalk/lkb/src/common/errors"

// Policy decides which stage failures end the run
type Policy struct {
	// PatchFatal makes a patch that does not apply stop the build
	PatchFatal bool
}

// IsFatal reports whether err stops the pipeline
func (p Policy) IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, errors.ErrPatchFailed):
		return p.PatchFatal
	case errors.Is(err, errors.ErrBootloaderUnsupported),
		errors.Is(err, errors.ErrBootloaderRefreshFailed):
		return false
	default:
		return true
	}
}

// IsFatal applies the default policy
func IsFatal(err error) bool {
	return Policy{}.IsFatal(err)
}
