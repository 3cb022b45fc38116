// Package connection implements the client side of a streaming chat
// connection.
//
// A Session owns one WebSocket at a time and:
//   - Drives a fixed state machine (disconnected, connecting, connected,
//     reconnecting, disconnecting, failed)
//   - Bounds each connect attempt with a TimeoutGuard
//   - Queues outbound messages while a connect is in flight and flushes them
//     in order on open
//   - Reconnects with exponential backoff unless the close code is final
//   - Decodes inbound frames and hands them to a Consumer in transport order
//
// Events from a socket that has been replaced are ignored by generation.
package connection
