// Package server implements the Enigma chat relay: a TCP listener that
// authenticates each client with a JSON handshake and broadcasts opaque chat
// payloads to every other member of the client's delivery group.
//
// Clients are partitioned into two independent groups, "encrypted" and
// "unencrypted", chosen by the handshake. The server never inspects chat
// payloads; encryption is performed end to end by clients. Usernames are
// unique per group under case-insensitive comparison, and each username is
// throttled by a sliding-window rate limiter.
//
// Every accepted connection is served by its own goroutine with no upper
// bound on the number of concurrent sessions. There is no backpressure; a
// large enough number of peers will exhaust file descriptors before the
// relay refuses anyone.
package server
