// Package protocol defines the wire format between the client and the chat server.
//
// Wire format:
//   - Outbound: MessagePack maps in binary WebSocket frames
//   - Inbound binary: MessagePack, same codec
//   - Inbound text: JSON objects, falling back to raw strings
//
// Every structured frame carries a string "type" discriminator. Frames are
// decoded once, at the transport boundary, into the Frame variants below.
package protocol
