package lease

import "time"

// timeNow is a package-level variable so tests can move the clock across
// expiry boundaries.
var timeNow = time.Now
