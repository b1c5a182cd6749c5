// Package rpc provides the JSON-RPC plumbing of the test harness: the
// endpoint that serves backend methods to a ferry-server process, the
// client used to drive a ferry-client's local server, and the waiter that
// tracks a single in-flight asynchronous call.
package rpc
