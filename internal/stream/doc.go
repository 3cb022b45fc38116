// Package stream reassembles decoded frames into per-thread conversation
// state.
//
// The Aggregator keeps an ordered message list per thread:
//   - Chunks append to the last unfinalized assistant message, or start one
//   - A full assistant message replaces the placeholder in place
//   - Job and node status frames update the running indicator and caption
//   - While a thread is stopping, only generation_stopped, error and
//     job_status frames are applied
//
// A placeholder that was still streaming when the connection reopened is
// marked partial and takes no more chunks. There is no resumption across
// connections.
package stream
