// Package types defines the value model shared by the depot solver and
// store: implementation versions and version ranges, architectures,
// stability ratings, manifest digests, requirements, feeds, selections,
// configuration, and the error taxonomy.
//
// Every type here is a plain value. Nothing in this package performs I/O
// beyond encoding and decoding selections documents.
package types
