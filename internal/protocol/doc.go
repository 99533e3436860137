// Package protocol defines the frames exchanged with devices over the
// session websocket.
//
// Inbound frames are a closed set: Decode returns one of ProfilerFrame,
// DetectEventFrame or OperationFeedbackFrame, and Frame.Dispatch calls the
// matching Handler method. Adding a frame type means adding a Handler
// method, so every handler implementation fails to compile until it
// handles the new type.
//
// Inbound wire format:
//
//	{"message_type": "profiler", "message": {"cpu_used_rate": 12.5, ...}}
//
// Outbound wire format:
//
//	{"message": {...}, "message_type": "operation"}
package protocol
