// Package backend manages the outbound side of the proxy: one Backend per
// distinct target, each owning the pooled http.Transport that every rule
// pointing at that target shares, plus in-flight and reachability tracking.
package backend
