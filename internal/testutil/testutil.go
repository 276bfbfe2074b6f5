// Package testutil provides test helpers for mailsweep tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings)
//   - store_helpers.go: database test setup (NewTestStore)
package testutil
