package protocol

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType discriminates inbound frames.
type MessageType string

const (
	TypeProfiler          MessageType = "profiler"
	TypeDetectEvent       MessageType = "detect_event"
	TypeOperationFeedback MessageType = "operation_feedback"
)

// Operation is the verb of a feature command or feedback.
type Operation string

const (
	OperationEnable  Operation = "enable"
	OperationDisable Operation = "disable"
)

// OperationType is the subject of a feature command or feedback.
type OperationType string

const (
	OperationProfiler          OperationType = "profiler"
	OperationIntruderDetection OperationType = "intruder_detection"
	OperationRestart           OperationType = "restart"
)

// Intrusion codes reported in DetectEventFrame.IntruderType.
const (
	// IntruderCodeVideo marks an event whose attached media is a video clip.
	// Every other code carries a still image.
	IntruderCodeVideo = 4
)

// Handler receives decoded frames. Session implements it.
type Handler interface {
	HandleProfiler(ctx context.Context, f ProfilerFrame) error
	HandleDetectEvent(ctx context.Context, f DetectEventFrame) error
	HandleOperationFeedback(ctx context.Context, f OperationFeedbackFrame) error
}

// Frame is an inbound device frame. The set of implementations is closed.
type Frame interface {
	Type() MessageType
	Dispatch(ctx context.Context, h Handler) error
	frame()
}

// ProfilerFrame is a periodic resource utilisation report.
type ProfilerFrame struct {
	CPUUsedRate float64 `json:"cpu_used_rate"`
	MemUsedRate float64 `json:"mem_used_rate"`
	DiskIORead  float64 `json:"disk_io_read"`
	DiskIOWrite float64 `json:"disk_io_write"`
}

func (ProfilerFrame) Type() MessageType { return TypeProfiler }
func (ProfilerFrame) frame()            {}

func (f ProfilerFrame) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleProfiler(ctx, f)
}

// DetectEventFrame reports an intrusion with attached media.
type DetectEventFrame struct {
	DataType     string `json:"data_type"`
	DataFile     string `json:"data_file"` // base64
	IntruderType int    `json:"intruder_type"`
	DataFileName string `json:"data_file_name"`
}

func (DetectEventFrame) Type() MessageType { return TypeDetectEvent }
func (DetectEventFrame) frame()            {}

func (f DetectEventFrame) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleDetectEvent(ctx, f)
}

// Complete reports whether all four fields are set. Incomplete detection
// frames are ignored.
func (f DetectEventFrame) Complete() bool {
	return f.DataType != "" && f.DataFile != "" && f.IntruderType != 0 && f.DataFileName != ""
}

// Media decodes the base64 attachment.
func (f DetectEventFrame) Media() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.DataFile)
	if err != nil {
		return nil, fmt.Errorf("%w: data_file: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

// ResourceType is "video" for IntruderCodeVideo and "image" otherwise.
func (f DetectEventFrame) ResourceType() string {
	if f.IntruderType == IntruderCodeVideo {
		return "video"
	}
	return "image"
}

// OperationFeedbackFrame acknowledges a command the device carried out.
type OperationFeedbackFrame struct {
	Operation     Operation     `json:"operation"`
	OperationType OperationType `json:"operation_type"`
}

func (OperationFeedbackFrame) Type() MessageType { return TypeOperationFeedback }
func (OperationFeedbackFrame) frame()            {}

func (f OperationFeedbackFrame) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleOperationFeedback(ctx, f)
}

// Enabled reports whether the feedback is for an enable operation.
func (f OperationFeedbackFrame) Enabled() bool {
	return f.Operation == OperationEnable
}

func (f OperationFeedbackFrame) validate() error {
	switch f.Operation {
	case OperationEnable, OperationDisable:
	default:
		return fmt.Errorf("%w: operation %q", ErrInvalidPayload, f.Operation)
	}
	switch f.OperationType {
	case OperationProfiler, OperationIntruderDetection, OperationRestart:
	default:
		return fmt.Errorf("%w: operation_type %q", ErrInvalidPayload, f.OperationType)
	}
	return nil
}

type envelope struct {
	MessageType MessageType     `json:"message_type"`
	Message     json.RawMessage `json:"message"`
}

// Decode parses one inbound text frame.
//
// Errors matching ErrMissingField (see IsTerminal) end the session; all
// other errors mean the frame should be dropped.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.MessageType == "" {
		return nil, fmt.Errorf("%w: message_type", ErrMissingField)
	}
	if isEmptyPayload(env.Message) {
		return nil, fmt.Errorf("%w: message", ErrMissingField)
	}

	switch env.MessageType {
	case TypeProfiler:
		return decodeProfiler(env.Message)

	case TypeDetectEvent:
		var f DetectEventFrame
		if err := unmarshalPayload(env.Message, &f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeOperationFeedback:
		var f OperationFeedbackFrame
		if err := unmarshalPayload(env.Message, &f); err != nil {
			return nil, err
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		return f, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.MessageType)
	}
}

// profilerPayload tells absent keys apart from zero readings.
type profilerPayload struct {
	CPUUsedRate *float64 `json:"cpu_used_rate"`
	MemUsedRate *float64 `json:"mem_used_rate"`
	DiskIORead  *float64 `json:"disk_io_read"`
	DiskIOWrite *float64 `json:"disk_io_write"`
}

// decodeProfiler requires all four readings; a report missing any of
// them is not stored.
func decodeProfiler(raw json.RawMessage) (Frame, error) {
	var p profilerPayload
	if err := unmarshalPayload(raw, &p); err != nil {
		return nil, err
	}

	var missing []string
	for _, field := range []struct {
		key string
		v   *float64
	}{
		{"cpu_used_rate", p.CPUUsedRate},
		{"mem_used_rate", p.MemUsedRate},
		{"disk_io_read", p.DiskIORead},
		{"disk_io_write", p.DiskIOWrite},
	} {
		if field.v == nil {
			missing = append(missing, field.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: profiler missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}

	return ProfilerFrame{
		CPUUsedRate: *p.CPUUsedRate,
		MemUsedRate: *p.MemUsedRate,
		DiskIORead:  *p.DiskIORead,
		DiskIOWrite: *p.DiskIOWrite,
	}, nil
}

// Encode wraps a frame in its envelope, the form a device sends it in.
func Encode(f Frame) ([]byte, error) {
	msg, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Type(), err)
	}
	return json.Marshal(envelope{MessageType: f.Type(), Message: msg})
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// isEmptyPayload treats null, "", {} and [] as absent.
func isEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", `""`, "{}", "[]", "0", "false":
		return true
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(trimmed, &obj) == nil && len(obj) == 0 {
		return true
	}
	return false
}
