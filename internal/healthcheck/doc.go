// Package healthcheck probes every backend on an interval and logs when one
// becomes reachable or unreachable. Results are informational: routing never
// consults them, so a down backend still gets its requests (and its 502s).
package healthcheck
