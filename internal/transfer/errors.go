package transfer

import (
	"context"
	"errors"
	"io/fs"

	"github.com/cpan115/pan115-go/internal/pan"
)

// ErrPlanInvalid marks a plan request that can never succeed: missing
// source or target, or a target that is not a directory.
var ErrPlanInvalid = errors.New("transfer: invalid plan")

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	// KindTransient covers network and server-side failures expected to
	// clear on retry. Unknown errors default here so a flaky condition is
	// given its retry budget rather than failing outright.
	KindTransient Kind = iota

	// KindAuthExpired means reauthorization is required. Never retried,
	// and it halts dispatch of remaining units.
	KindAuthExpired

	KindNotFound
	KindPermissionDenied

	// KindRejected covers other permanent client-side rejections
	// (malformed request, duplicate conflict). Not retried.
	KindRejected

	KindCancelled
	KindPlanInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthExpired:
		return "auth_expired"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRejected:
		return "rejected"
	case KindCancelled:
		return "cancelled"
	case KindPlanInvalid:
		return "plan_invalid"
	default:
		return "unknown"
	}
}

// Classify maps an error to its Kind. Only KindTransient is retried.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, pan.ErrAuthExpired) || errors.Is(err, pan.ErrNotLoggedIn):
		return KindAuthExpired
	case errors.Is(err, ErrPlanInvalid):
		return KindPlanInvalid
	case errors.Is(err, pan.ErrNotFound) || errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, pan.ErrNoDownloadURL):
		return KindNotFound
	case errors.Is(err, pan.ErrForbidden) || errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, pan.ErrBadRequest) || errors.Is(err, pan.ErrConflict) ||
		errors.Is(err, pan.ErrEmptyPayload):
		return KindRejected
	default:
		// pan.ErrThrottled, pan.ErrServerError, raw network errors.
		return KindTransient
	}
}
