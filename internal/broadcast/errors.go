package broadcast

import "errors"

// ErrDropped reports that at least one subscriber missed the event. Only
// the terminal publish site treats it as retryable; all other publishes
// are fire-and-forget.
var ErrDropped = errors.New("broadcast: event dropped for one or more subscribers")
