// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development: a socketpair-backed
// compositor peer and an instrumented wire connection with error injection.
package fake
