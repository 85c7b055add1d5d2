package enhance

import "errors"

// Error kinds of the enhancement pipeline. Callers classify with errors.Is.
var (
	ErrMissingParameter = errors.New("missing feedurl parameter")
	ErrInvalidParameter = errors.New("invalid feedurl parameter")
	ErrUpstreamFetch    = errors.New("upstream fetch failed")
	ErrFeedParse        = errors.New("feed parse failed")
	ErrDetailFetch      = errors.New("detail fetch failed")
	ErrEncoding         = errors.New("calendar encoding failed")
)
