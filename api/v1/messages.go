package v1

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

var ErrInvalidMessage = errors.New("invalid message")

// ExecRequest is the request of Exec and SynchronousExec.
type ExecRequest struct {
	Argv  []string
	Flags uint32
}

// InspectResponse is the response of Inspect.
type InspectResponse struct {
	Tag   uint32
	PID   int64
	Argv  []string
	State string
	Armed bool
}

// SynchronousExecResponse is the response of SynchronousExec. ReturnCode is
// the raw wait status of the child.
type SynchronousExecResponse struct {
	ReturnCode  int64
	ExitCode    int64
	Description string
}

func (r *ExecRequest) Struct() *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"argv":  structpb.NewListValue(argvList(r.Argv)),
			"flags": structpb.NewNumberValue(float64(r.Flags)),
		},
	}
}

func ParseExecRequest(s *structpb.Struct) (*ExecRequest, error) {
	argv, err := stringsField(s, "argv")
	if err != nil {
		return nil, err
	}

	// flags is optional.
	var flags float64
	if _, ok := s.GetFields()["flags"]; ok {
		if flags, err = integerField(s, "flags", 0, math.MaxUint32); err != nil {
			return nil, err
		}
	}

	return &ExecRequest{Argv: argv, Flags: uint32(flags)}, nil
}

func (r *InspectResponse) Struct() *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"tag":   structpb.NewNumberValue(float64(r.Tag)),
			"pid":   structpb.NewNumberValue(float64(r.PID)),
			"argv":  structpb.NewListValue(argvList(r.Argv)),
			"state": structpb.NewStringValue(r.State),
			"armed": structpb.NewBoolValue(r.Armed),
		},
	}
}

func ParseInspectResponse(s *structpb.Struct) (*InspectResponse, error) {
	tag, err := integerField(s, "tag", 0, math.MaxUint32)
	if err != nil {
		return nil, err
	}

	pid, err := integerField(s, "pid", 0, math.MaxInt32)
	if err != nil {
		return nil, err
	}

	argv, err := stringsField(s, "argv")
	if err != nil {
		return nil, err
	}

	state, err := stringField(s, "state")
	if err != nil {
		return nil, err
	}

	armed, err := boolField(s, "armed")
	if err != nil {
		return nil, err
	}

	return &InspectResponse{
		Tag:   uint32(tag),
		PID:   int64(pid),
		Argv:  argv,
		State: state,
		Armed: armed,
	}, nil
}

func (r *SynchronousExecResponse) Struct() *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"return_code": structpb.NewNumberValue(float64(r.ReturnCode)),
			"exit_code":   structpb.NewNumberValue(float64(r.ExitCode)),
			"description": structpb.NewStringValue(r.Description),
		},
	}
}

func ParseSynchronousExecResponse(
	s *structpb.Struct,
) (*SynchronousExecResponse, error) {
	returnCode, err := integerField(s, "return_code", math.MinInt32, math.MaxUint32)
	if err != nil {
		return nil, err
	}

	exitCode, err := integerField(s, "exit_code", math.MinInt32, math.MaxInt32)
	if err != nil {
		return nil, err
	}

	description, err := stringField(s, "description")
	if err != nil {
		return nil, err
	}

	return &SynchronousExecResponse{
		ReturnCode:  int64(returnCode),
		ExitCode:    int64(exitCode),
		Description: description,
	}, nil
}

func argvList(argv []string) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(argv))
	for _, arg := range argv {
		values = append(values, structpb.NewStringValue(arg))
	}

	return &structpb.ListValue{Values: values}
}

func field(s *structpb.Struct, name string) (*structpb.Value, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing field '%s'", ErrInvalidMessage, name)
	}

	return v, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, err := field(s, name)
	if err != nil {
		return "", err
	}

	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: field '%s' is not a string", ErrInvalidMessage, name)
	}

	return sv.StringValue, nil
}

func boolField(s *structpb.Struct, name string) (bool, error) {
	v, err := field(s, name)
	if err != nil {
		return false, err
	}

	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: field '%s' is not a bool", ErrInvalidMessage, name)
	}

	return bv.BoolValue, nil
}

// integerField returns a number field that must be a whole number within
// [lo, hi].
func integerField(s *structpb.Struct, name string, lo, hi float64) (float64, error) {
	v, err := field(s, name)
	if err != nil {
		return 0, err
	}

	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: field '%s' is not a number", ErrInvalidMessage, name)
	}

	n := nv.NumberValue
	if n != math.Trunc(n) || n < lo || n > hi {
		return 0, fmt.Errorf("%w: field '%s' out of range: %v", ErrInvalidMessage, name, n)
	}

	return n, nil
}

func stringsField(s *structpb.Struct, name string) ([]string, error) {
	v, err := field(s, name)
	if err != nil {
		return nil, err
	}

	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("%w: field '%s' is not a list", ErrInvalidMessage, name)
	}

	values := lv.ListValue.GetValues()
	out := make([]string, 0, len(values))

	for i, item := range values {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf(
				"%w: field '%s[%d]' is not a string",
				ErrInvalidMessage,
				name,
				i,
			)
		}

		out = append(out, sv.StringValue)
	}

	return out, nil
}
