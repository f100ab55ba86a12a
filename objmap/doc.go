// Package objmap
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Object identifier table shared by both ends of a display connection.
//
// Ids below ServerIDStart are allocated by the client and reused after
// release; ids from ServerIDStart upwards are allocated by the server and
// announced in events. Each slot is Empty, Reserved (claimed ahead of its
// wire announcement) or Bound to an object record. The table holds records
// by reference only and never frees them.
//
// Map is not safe for concurrent use. The display guards it with its
// connection lock.
package objmap
