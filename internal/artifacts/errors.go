package artifacts

import (
	"errors"
	"fmt"
)

var ErrSerialization = errors.New("artifact serialization error")

type EncodeError struct {
	Value any
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode value of type %T: not a pipeline artifact", e.Value)
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrSerialization
}

type DecodeError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cannot decode envelope: %s", e.Reason)
	}
	return fmt.Sprintf("cannot decode %s envelope: field %q %s", e.Kind, e.Field, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrSerialization
}
