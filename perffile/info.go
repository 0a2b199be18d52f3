// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/aclements/go-eventheader/tracefmt"
)

// SampleEventInfo is a derived, read-only view of a sample record: its
// identifying fields plus its raw payload and, for tracepoint events,
// the tracefs Format describing that payload's layout. It borrows
// RawData from the Records that produced it and is only valid until
// the next call to Records.Next.
type SampleEventInfo struct {
	RawData     []byte
	ByteOrder   binary.ByteOrder
	SampleType  SampleFormat
	SessionInfo *SessionInfo
	TimeNS      uint64
	CPU         uint32
	PID         uint32
	TID         uint32
	ID          uint64
	StreamID    uint64
	Format      *tracefmt.Format // nil unless the event is a tracepoint with a known format
}

// NonSampleEventInfo is the identifying-field subset of
// SampleEventInfo available on non-sample records (mmap, comm, exit,
// ...)  when EventFlagSampleIDAll causes every record to carry a
// sample_id trailer.
type NonSampleEventInfo struct {
	ByteOrder   binary.ByteOrder
	SampleType  SampleFormat
	SessionInfo *SessionInfo
	TimeNS      uint64
	CPU         uint32
	PID         uint32
	TID         uint32
	ID          uint64
	StreamID    uint64
}

// ByteReader returns the byte order every multibyte field in this
// file was encoded with. Only the little-endian v2 file format is
// supported, so this is always binary.LittleEndian; callers decoding
// raw payload bytes (perfvalue, eventheader) should still go through
// this accessor instead of assuming an order.
func (f *File) ByteReader() binary.ByteOrder {
	return binary.LittleEndian
}

// GetSampleEventInfo derives a SampleEventInfo from a sample record.
//
// It returns an error wrapping ErrInvalidData if rec is not a
// *RecordSample.
// If the sample has no resolved EventAttr, it returns ErrIDNotFound
// alongside a best-effort SampleEventInfo carrying only the raw
// payload and byte order (none of the other fields can be decoded
// without knowing the attribute's SampleFormat layout); the caller
// should skip the record's metadata but may still emit what little
// info is present.
func (f *File) GetSampleEventInfo(rec Record) (*SampleEventInfo, error) {
	s, ok := rec.(*RecordSample)
	if !ok {
		return nil, errors.Wrapf(ErrInvalidData, "record is a %T, not a sample", rec)
	}
	if s.EventAttr == nil {
		return &SampleEventInfo{
			RawData:   s.Raw,
			ByteOrder: f.ByteReader(),
		}, ErrIDNotFound
	}

	info := &SampleEventInfo{
		RawData:     s.Raw,
		ByteOrder:   f.ByteReader(),
		SampleType:  s.EventAttr.SampleFormat,
		SessionInfo: f.sessionInfo,
		TimeNS:      s.Time,
		CPU:         s.CPU,
		PID:         uint32(s.PID),
		TID:         uint32(s.TID),
		ID:          uint64(s.ID),
		StreamID:    s.StreamID,
	}
	if tp, ok := s.EventAttr.Event.(EventTracepoint); ok {
		info.Format = f.TracepointFormat(uint32(tp))
	}
	return info, nil
}

// GetNonSampleEventInfo derives a NonSampleEventInfo from a
// non-sample record's sample_id trailer.
//
// It returns a plain error (not one of the recoverable sentinels; the
// caller has no per-record action to take) if no attribute in this
// file enables EventFlagSampleIDAll, since then no non-sample record
// carries identifying fields at all, and ErrIDNotFound (recoverable)
// if this particular record's id doesn't resolve to a known
// EventAttr.
func (f *File) GetNonSampleEventInfo(rec Record) (*NonSampleEventInfo, error) {
	if !f.sampleIDAll {
		return nil, errors.New("perffile: file has no sample_id_all attribute; non-sample records carry no identifying fields")
	}
	c := rec.Common()
	if c.EventAttr == nil {
		return nil, ErrIDNotFound
	}

	return &NonSampleEventInfo{
		ByteOrder:   f.ByteReader(),
		SampleType:  c.EventAttr.SampleFormat,
		SessionInfo: f.sessionInfo,
		TimeNS:      c.Time,
		CPU:         c.CPU,
		PID:         uint32(c.PID),
		TID:         uint32(c.TID),
		ID:          uint64(c.ID),
		StreamID:    c.StreamID,
	}, nil
}
