// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "encoding/binary"

// SessionInfo holds clock-offset data recorded by a PERF_RECORD_TIME_CONV
// stream record, letting a caller translate a sample's raw
// RecordCommon.Time into a wall-clock Unix nanosecond timestamp. It is
// nil for files that carry no such record, in which case Time should
// be treated as an opaque, monotonically increasing counter.
type SessionInfo struct {
	TimeShift uint64
	TimeMult  uint64
	TimeZero  uint64
}

// WallClockNanos converts a raw time_ns value to nanoseconds since the
// Unix epoch, following the same quot = (cyc>>shift)*mult; wall =
// quot+zero conversion the kernel documents for
// perf_event_mmap_page.time_zero. s may be nil, in which case timeNS
// is returned unchanged.
func (s *SessionInfo) WallClockNanos(timeNS uint64) uint64 {
	if s == nil {
		return timeNS
	}
	quot := (timeNS >> s.TimeShift) * s.TimeMult
	return quot + s.TimeZero
}

// scanSessionInfo looks for a PERF_RECORD_TIME_CONV record in the data
// section and, if found, fills f.sessionInfo. perf emits at most one
// of these per file, early in the stream, so a single forward pass
// suffices.
func (f *File) scanSessionInfo() error {
	rs := f.Records(RecordsFileOrder)
	for rs.Next() {
		if rs.Record.Type() != recordTypeTimeConv {
			continue
		}
		u, ok := rs.Record.(*RecordUnknown)
		if !ok || len(u.Data) < 24 {
			continue
		}
		order := binary.LittleEndian
		f.sessionInfo = &SessionInfo{
			TimeShift: order.Uint64(u.Data[0:8]),
			TimeMult:  order.Uint64(u.Data[8:16]),
			TimeZero:  order.Uint64(u.Data[16:24]),
		}
		return nil
	}
	return rs.Err()
}

// SessionInfo returns the clock-offset data recorded for this file,
// or nil if none was present.
func (f *File) SessionInfo() *SessionInfo {
	return f.sessionInfo
}
