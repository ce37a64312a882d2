package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Errorf is re-exported from fmt
var Errorf = fmt.Errorf

// New is re-exported from the standard library
var New = stderrors.New

// Is is re-exported from the standard library
var Is = stderrors.Is

// As is re-exported from the standard library
var As = stderrors.As

// Wrap is re-exported from github.com/pkg/errors
var Wrap = errors.Wrap

// Wrapf is re-exported from github.com/pkg/errors
var Wrapf = errors.Wrapf

// WithStack is re-exported from github.com/pkg/errors
var WithStack = errors.WithStack

