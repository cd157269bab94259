package fsatomic

import "time"

// timeNow is swapped in tests that need deterministic mtimes.
var timeNow = time.Now
