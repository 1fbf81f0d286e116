//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for the depot project using Mage.
//
// Usage:
//
//	mage build       Compile the depot binary to bin/
//	mage install     Install depot to GOPATH/bin
//	mage test:all    Run all tests
//	mage test:race   Run all tests with the race detector
//	mage test:cover  Write coverage.out and print per-function coverage
//	mage lint        Run golangci-lint
//	mage clean       Remove build artifacts
//	mage stats       Print Go lines of code
package main

const (
	binGo      = "go"
	binaryName = "depot"
	binaryDir  = "bin"
	cmdDir     = "./cmd/depot"
	modulePath = "github.com/mesh-intelligence/depot"
	coverFile  = "coverage.out"
)
