// File: internal/wire/doc.go
// Package wire
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw connection primitives for the display: single-read decode of
// complete messages with retention of partial trailing bytes, an outgoing
// request buffer with non-blocking flush, and argument encoding for the
// handful of messages the core itself speaks.
package wire
