// Package coderr provides stable error codes for failures that callers are
// expected to dispatch on across process and version boundaries.
package coderr

import (
	"fmt"
	"sort"
	"strings"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// Code is a stable identifier of an error kind. All codes live in one global
// registry to keep them unique; a duplicate registration panics at start.
type Code string

func (c Code) ID() string {
	return string(c)
}

// Contains reports whether err or any of its causes carries this code.
func (c Code) Contains(err error) bool {
	var codedErr CodedError
	unwrappedErr := err
	for xerrors.As(unwrappedErr, &codedErr) {
		if codedErr.Code() == c {
			return true
		}
		unwrappedErr = xerrors.Unwrap(codedErr)
	}
	return false
}

type CodedError interface {
	error
	xerrors.Wrapper

	Code() Code
}

type codedImpl struct {
	error
	code Code
}

func (c *codedImpl) Unwrap() error {
	return c.error
}

func (c *codedImpl) Code() Code {
	return c.code
}

// Errorf produces an xerrors-wrapped error tagged with the given code.
func Errorf(code Code, format string, a ...any) error {
	return &codedImpl{
		error: xerrors.Errorf(format, a...),
		code:  code,
	}
}

var knownCodes = map[Code]bool{}

func Register(parts ...string) Code {
	code := Code(strings.Join(parts, "."))
	if knownCodes[code] {
		panic(fmt.Sprintf("code: %s already registered", code))
	}
	knownCodes[code] = true
	return code
}

func All() []Code {
	res := make([]Code, 0, len(knownCodes))
	for code := range knownCodes {
		res = append(res, code)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}
