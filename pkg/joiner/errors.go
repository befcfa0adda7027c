package joiner

import "errors"

var errNoScoreFound = errors.New("no numeric completion score found in response")
