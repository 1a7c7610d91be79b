/*
Package address provides the structured, immutable representation of a
management resource address, based on the canonical format
`/type=value/type=value`.

The empty address (printed as `/`) denotes the subsystem root. Addresses are
plain values: every method that "changes" an address returns a new one, so
they can be shared freely between goroutines and used as map keys through
their String form.

This package centralizes all formatting, parsing and ordering logic, including
the deterministic derivation of service names from an owning resource's
address.
*/
package address
