// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "github.com/pkg/errors"

// Sentinel errors of this package. GetSampleEventInfo returns
// ErrInvalidData (wrapped) when the record it is given is not a
// sample; GetSampleEventInfo and GetNonSampleEventInfo return
// ErrIDNotFound when the record's attribute id does not resolve.
// ErrNoFormat is not returned by this package: it names the case of
// a SampleEventInfo whose Format is nil, for callers that report it.
// ErrIDNotFound and ErrNoFormat are recoverable: the caller should
// continue to the next record, still emitting whatever best-effort
// (ErrIDNotFound) or header-only (ErrNoFormat) JSON it can. End of
// stream is reported by Records.Next returning false with a nil Err,
// not by a sentinel here; the enumerator's own per-event failures are
// reported by perfjson.EnumeratorError, not here.
var (
	ErrInvalidData = errors.New("perffile: invalid data")
	ErrIDNotFound  = errors.New("perffile: id not found")

	// ErrNoFormat means a tracepoint sample's resolved attribute
	// carries no parsed tracefs format (SampleEventInfo.Format is
	// nil), so its payload fields can't be decoded; only header
	// fields are available.
	ErrNoFormat = errors.New("perffile: sample event has no tracefs format")
)
