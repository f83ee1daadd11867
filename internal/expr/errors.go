// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"github.com/pkg/errors"

	"github.com/canonical/querymap/internal/dialect"
)

// Errors returned by the compiler. They are matched with errors.Is; the
// returned error carries the offending identifier or key in its message.
var (
	ErrMalformedIdentifier       = dialect.ErrMalformedIdentifier
	ErrMissingTable              = errors.New("missing table")
	ErrMissingColumns            = errors.New("missing columns")
	ErrInconsistentRowShape      = errors.New("inconsistent row shape")
	ErrAmbiguousWildcard         = errors.New("ambiguous wildcard")
	ErrUnsupportedDialectFeature = errors.New("unsupported dialect feature")
	ErrInvalidDescriptor         = errors.New("invalid descriptor")
)
