package notes

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the retry policy bucket an upload failure falls into.
type Kind int

const (
	// KindUnclassified failures consume retry budget with linear backoff.
	KindUnclassified Kind = iota
	// KindRateLimit failures are paced by the service's own cooldown.
	KindRateLimit
	// KindConflict means the target note is held open by another editor;
	// retry shortly without consuming retry budget.
	KindConflict
)

// Classification is the structured reading of an upload error.
type Classification struct {
	Kind Kind
	// Duration is the service-reported cooldown; set only for KindRateLimit.
	Duration time.Duration
}

// The payload may arrive as JSON embedded in a wrapping error's message
// ("errorCode":19) or flattened to key=value text (errorCode=19), depending
// on how many boundaries it crossed.
var (
	rateLimitCodePattern     = regexp.MustCompile(`errorCode"?\s*[:=]\s*` + strconv.Itoa(ErrorCodeRateLimit) + `\b`)
	rateLimitDurationPattern = regexp.MustCompile(`rateLimitDuration"?\s*[:=]\s*(\d+)`)
)

const conflictMarker = "already open"

// Classify inspects an arbitrary error from the note service and decides
// the retry policy. It tolerates both structured *ServiceError values and
// plain errors whose message embeds the serialized payload; anything it
// cannot recognize is KindUnclassified.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnclassified}
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.ErrorCode == ErrorCodeRateLimit && svcErr.RateLimitDuration > 0 {
			return Classification{
				Kind:     KindRateLimit,
				Duration: time.Duration(svcErr.RateLimitDuration) * time.Second,
			}
		}
		if strings.Contains(strings.ToLower(svcErr.Message), conflictMarker) {
			return Classification{Kind: KindConflict}
		}
	}

	message := err.Error()
	if strings.Contains(strings.ToLower(message), conflictMarker) {
		return Classification{Kind: KindConflict}
	}
	if rateLimitCodePattern.MatchString(message) {
		if match := rateLimitDurationPattern.FindStringSubmatch(message); match != nil {
			seconds, convErr := strconv.Atoi(match[1])
			if convErr == nil && seconds > 0 {
				return Classification{
					Kind:     KindRateLimit,
					Duration: time.Duration(seconds) * time.Second,
				}
			}
		}
	}

	return Classification{Kind: KindUnclassified}
}
