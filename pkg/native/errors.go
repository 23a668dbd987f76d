// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package native

import (
	"errors"
	"fmt"
)

// Error is a status code returned by the runtime API entry points. The zero
// value is never returned as an error: success is reported as a nil error.
type Error int

const (
	// ErrorInvalidValue is returned when an argument is out of range or a
	// required output slot is missing.
	ErrorInvalidValue Error = 1
	// ErrorMemoryAllocation is returned when memory cannot be allocated.
	ErrorMemoryAllocation Error = 2
	// ErrorInitializationError is returned when the runtime failed to initialize.
	ErrorInitializationError Error = 3
	// ErrorUnknown is returned when the cause of a failure is unknown, and by
	// every entry point which could not be resolved.
	ErrorUnknown Error = 999
)

// Result is a status code returned by the driver API entry points. Success
// is reported as a nil error.
type Result int

const (
	// ResultInvalidValue is returned for an invalid argument.
	ResultInvalidValue Result = 1
	// ResultOutOfMemory is returned when memory cannot be allocated.
	ResultOutOfMemory Result = 2
	// ResultNotInitialized is returned when the driver is not initialized,
	// and by every driver entry point which could not be resolved.
	ResultNotInitialized Result = 3
)

var errorNames = map[Error]string{
	ErrorInvalidValue:        "cudaErrorInvalidValue",
	ErrorMemoryAllocation:    "cudaErrorMemoryAllocation",
	ErrorInitializationError: "cudaErrorInitializationError",
	ErrorUnknown:             "cudaErrorUnknown",
}

var resultNames = map[Result]string{
	ResultInvalidValue:   "CUDA_ERROR_INVALID_VALUE",
	ResultOutOfMemory:    "CUDA_ERROR_OUT_OF_MEMORY",
	ResultNotInitialized: "CUDA_ERROR_NOT_INITIALIZED",
}

// Error implements the error interface.
func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("cudaError(%d)", int(e))
}

// Error implements the error interface.
func (r Result) Error() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("CUresult(%d)", int(r))
}

// StatusCode returns the numeric status code for err. A nil error maps to 0,
// the success code of both APIs. Errors which carry no native status map to
// ErrorUnknown.
func StatusCode(err error) int {
	var (
		e Error
		r Result
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &e):
		return int(e)
	case errors.As(err, &r):
		return int(r)
	}
	return int(ErrorUnknown)
}
