// Package pool
// Author: momentics <momentics@gmail.com>
//
// Size-class buffer pooling for message arguments. The read path takes a
// buffer per decoded message and the dispatch path returns it once the
// handler is done, so steady-state traffic allocates nothing.
package pool
