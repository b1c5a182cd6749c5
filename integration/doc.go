// Package integration provides the harness for driving real ferry-client
// and ferry-server processes in end-to-end tests: resolving the XMPP test
// environment, launching the binaries, serving the RPC backend they
// forward to, and asserting on the traffic that comes back through.
//
// The scenario tests in this package need the compiled binaries and a
// reachable XMPP server; they skip themselves when the binaries are
// missing. The harness pieces themselves are tested everywhere.
package integration
