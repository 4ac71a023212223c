// Package main runs the in-memory HTTP relay assumed by the session
// manager's dumb-forwarder contract (spec.md §6.4).
//
// HTTP API
//
//	POST /register
//	    Store a user's identity, signed pre-key, canary, and one-time
//	    pre-keys.
//
//	GET /prekey/{user}
//	    Return the latest published bundle for {user}, popping at most
//	    one one-time pre-key from the stored set.
//
//	GET /account/{user}/canary
//	    Return the canary currently on file for {user}.
//
//	POST /msg/{user}
//	    Enqueue an envelope destined to {user}.
//
//	GET /msg/{user}?limit=N
//	    Return up to N queued envelopes for {user}. If limit is absent
//	    or exceeds the queue length, the whole queue is returned.
//
//	POST /msg/{user}/ack { "count": N }
//	    Drop the first N queued envelopes for {user}.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - The relay never inspects an envelope's header or cipher bytes,
//     only its size and timestamp.
//   - /metrics exposes Prometheus counters and gauges for request
//     volume, queue depth, and registered bundles.
package main
