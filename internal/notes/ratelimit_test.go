package notes

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_StructuredRateLimit(t *testing.T) {
	err := &ServiceError{ErrorCode: 19, RateLimitDuration: 904}

	got := Classify(err)
	require.Equal(t, KindRateLimit, got.Kind)
	assert.Equal(t, 904*time.Second, got.Duration)
}

func TestClassify_WrappedStructuredRateLimit(t *testing.T) {
	err := fmt.Errorf("create note: %w", &ServiceError{ErrorCode: 19, RateLimitDuration: 60})

	got := Classify(err)
	require.Equal(t, KindRateLimit, got.Kind)
	assert.Equal(t, time.Minute, got.Duration)
}

func TestClassify_RateLimitEmbeddedInMessageText(t *testing.T) {
	// The original type is lost crossing an IPC boundary; only the
	// stringified payload survives inside a generic error.
	cases := []string{
		`remote call failed: note service error: {"errorCode":19,"rateLimitDuration":904}`,
		`remote call failed: {"errorCode": 19, "rateLimitDuration": 120, "message": "quota"}`,
		`upstream says errorCode=19 rateLimitDuration=45`,
	}
	want := []time.Duration{904 * time.Second, 120 * time.Second, 45 * time.Second}

	for i, msg := range cases {
		got := Classify(fmt.Errorf("%s", msg))
		require.Equal(t, KindRateLimit, got.Kind, msg)
		assert.Equal(t, want[i], got.Duration, msg)
	}
}

func TestClassify_Conflict(t *testing.T) {
	cases := []error{
		&ServiceError{ErrorCode: 3, Message: "note is already open in another editor"},
		fmt.Errorf("update note: the note is Already Open elsewhere"),
	}
	for _, err := range cases {
		got := Classify(err)
		assert.Equal(t, KindConflict, got.Kind, err.Error())
	}
}

func TestClassify_Unclassified(t *testing.T) {
	cases := []error{
		nil,
		fmt.Errorf("connection reset by peer"),
		&ServiceError{ErrorCode: 7, Message: "internal error"},
		// Rate-limit code without a duration cannot be paced.
		fmt.Errorf(`{"errorCode":19}`),
		// Duration without the quota code is not a rate limit.
		fmt.Errorf(`{"errorCode":4,"rateLimitDuration":30}`),
	}
	for _, err := range cases {
		got := Classify(err)
		assert.Equal(t, KindUnclassified, got.Kind)
		assert.Zero(t, got.Duration)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{45 * time.Second, "45 seconds"},
		{time.Minute, "1 minute"},
		{904 * time.Second, "15 minutes and 4 seconds"},
		{time.Hour, "1 hour"},
		{time.Hour + 30*time.Minute, "1 hour and 30 minutes"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1 hour, 2 minutes and 3 seconds"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatDuration(tc.in), tc.in.String())
	}
}
