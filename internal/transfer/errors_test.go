package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cpan115/pan115-go/internal/pan"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"canceled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindCancelled},
		{"auth expired", pan.ErrAuthExpired, KindAuthExpired},
		{"not logged in", pan.ErrNotLoggedIn, KindAuthExpired},
		{"plan invalid", ErrPlanInvalid, KindPlanInvalid},
		{"remote not found", pan.ErrNotFound, KindNotFound},
		{"local not found", fs.ErrNotExist, KindNotFound},
		{"no download url", pan.ErrNoDownloadURL, KindNotFound},
		{"forbidden", pan.ErrForbidden, KindPermissionDenied},
		{"local permission", fs.ErrPermission, KindPermissionDenied},
		{"bad request", pan.ErrBadRequest, KindRejected},
		{"conflict", pan.ErrConflict, KindRejected},
		{"empty payload", pan.ErrEmptyPayload, KindRejected},
		{"throttled", pan.ErrThrottled, KindTransient},
		{"server error", pan.ErrServerError, KindTransient},
		{"raw network error", errors.New("connection reset"), KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassify_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", pan.ErrAuthExpired))
	assert.Equal(t, KindAuthExpired, Classify(err))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "transient", KindTransient.String())
	assert.Equal(t, "auth_expired", KindAuthExpired.String())
	assert.Equal(t, "cancelled", KindCancelled.String())
}
