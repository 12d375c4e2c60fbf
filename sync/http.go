package sync

import "time"

// HTTPRequestTimeout is the timeout for all HTTP requests to the XMPL API.
// The core performs a single best-effort call per attempt with no retry, so
// this bound is also the upper bound on how long a whole attempt blocks.
const HTTPRequestTimeout = 30 * time.Second
