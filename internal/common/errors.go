// Package common defines shared sentinel errors and small helpers used across
// canvasvault layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrorNotFound is returned when an addressed record does not exist and
	// the operation cannot treat absence as a normal outcome.
	ErrorNotFound = errors.New("not found")

	// ErrorInvalidArgument reports malformed caller input (empty keys,
	// unknown options and the like).
	ErrorInvalidArgument = errors.New("invalid argument")
)
