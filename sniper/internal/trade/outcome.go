// Package trade executes buys and sells through the venue API or, as a
// fallback, through the asset page.
package trade

import (
	"context"
	"errors"

	"github.com/hazyhaar/snipebot/sniper/internal/venue"
)

// Kind is the verdict of one execution attempt.
type Kind int

const (
	Failure Kind = iota
	Success
	// Indeterminate is an ambiguous answer, e.g. an empty success response.
	Indeterminate
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Indeterminate:
		return "indeterminate"
	default:
		return "failure"
	}
}

// Outcome is the result of Execute.
type Outcome struct {
	Kind   Kind
	Reason string
	Path   Path
}

// OK reports whether the trade should be treated as done. Indeterminate
// counts as done: the venue accepted the request.
func (o Outcome) OK() bool { return o.Kind == Success || o.Kind == Indeterminate }

func fail(path Path, reason string) Outcome {
	return Outcome{Kind: Failure, Reason: reason, Path: path}
}

// Classify maps an API receipt and its transport error to an outcome.
func Classify(rc venue.Receipt, err error) Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fail(PathAPI, "timeout: "+err.Error())
	case err != nil:
		return fail(PathAPI, err.Error())
	case rc.Empty:
		return Outcome{Kind: Indeterminate, Reason: "empty success response", Path: PathAPI}
	case rc.Success:
		return Outcome{Kind: Success, Path: PathAPI}
	}
	return fail(PathAPI, rc.Message)
}
