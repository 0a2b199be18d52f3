// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileHeaderSize and attrOnDiskSize mirror the sizes New expects to
// find in a v2 perf.data file: binary.Size(&fileHeader{}) and
// binary.Size(&eventAttrV0{}) respectively. Recomputed here (rather
// than calling binary.Size) so the test fails loudly if either struct
// grows instead of silently miscomputing offsets.
const (
	fileHeaderSize = 104
	attrOnDiskSize = 64
	attrEntrySize  = attrOnDiskSize + 16 // eventAttrV0 + its IDs fileSection
)

// assemblePerfFile assembles a minimal, valid in-memory v2 perf.data
// file with a single EventAttr (id 0, the given SampleFormat and
// EventFlags) and the given data section contents.
func assemblePerfFile(t *testing.T, sampleFormat SampleFormat, flags EventFlags, data []byte) []byte {
	t.Helper()
	order := binary.LittleEndian

	attrsOff := int64(fileHeaderSize)
	idsOff := attrsOff + attrEntrySize
	dataOff := idsOff + 8

	hdr := fileHeader{
		Size:     fileHeaderSize,
		AttrSize: attrEntrySize,
		Attrs:    fileSection{Offset: uint64(attrsOff), Size: attrEntrySize},
		Data:     fileSection{Offset: uint64(dataOff), Size: uint64(len(data))},
	}
	copy(hdr.Magic[:], "PERFILE2")

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, order, &hdr))
	require.Equal(t, fileHeaderSize, buf.Len())

	attr := eventAttrV0{
		Type:         EventTypeHardware,
		Size:         attrOnDiskSize,
		SampleFormat: sampleFormat,
		Flags:        flags,
	}
	require.NoError(t, binary.Write(&buf, order, &attr))
	require.NoError(t, binary.Write(&buf, order, fileSection{Offset: uint64(idsOff), Size: 8}))
	require.Equal(t, int(idsOff), buf.Len())

	require.NoError(t, binary.Write(&buf, order, uint64(0))) // one attr id: 0
	require.Equal(t, int(dataOff), buf.Len())

	buf.Write(data)
	return buf.Bytes()
}

// sampleFieldsTIDTimeCPU is the RecordSample payload used throughout
// this file: PID, TID, Time, CPU, Res, in the order
// Records.parseSample expects for SampleFormatTID|Time|CPU.
func sampleFieldsTIDTimeCPU(order binary.ByteOrder, pid, tid int32, ts uint64, cpu uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, pid)
	binary.Write(&buf, order, tid)
	binary.Write(&buf, order, ts)
	binary.Write(&buf, order, cpu)
	binary.Write(&buf, order, uint32(0)) // Res
	return buf.Bytes()
}

// buildRoundScopedFile lays out one RecordSample per entry in times,
// each at the given PID/TID (100+i, 200+i), and inserts a
// FINISHED_ROUND marker after every index present in roundBreaks.
func buildRoundScopedFile(t *testing.T, times []uint64, roundBreaks map[int]bool) []byte {
	t.Helper()
	order := binary.LittleEndian

	var data bytes.Buffer
	for i, ts := range times {
		payload := sampleFieldsTIDTimeCPU(order, int32(100+i), int32(200+i), ts, 0)
		require.NoError(t, binary.Write(&data, order, recordHeader{
			Type: RecordTypeSample,
			Size: uint16(8 + len(payload)),
		}))
		data.Write(payload)

		if roundBreaks[i] {
			require.NoError(t, binary.Write(&data, order, recordHeader{
				Type: recordTypeFinishedRound,
				Size: 8,
			}))
		}
	}

	return assemblePerfFile(t, SampleFormatTID|SampleFormatTime|SampleFormatCPU, 0, data.Bytes())
}

func readSampleTimes(t *testing.T, f *File, order RecordsOrder) []uint64 {
	t.Helper()
	var times []uint64
	rs := f.Records(order)
	for rs.Next() {
		if s, ok := rs.Record.(*RecordSample); ok {
			times = append(times, s.Time)
		}
	}
	require.NoError(t, rs.Err())
	return times
}

// TestRecordsRoundScopedSort exercises the round-scoped sort Records
// applies for RecordsTimeOrder: round 1 has samples at t = 5, 2, 9;
// round 2 (left open, with no trailing FINISHED_ROUND) has t = 1, 4.
// Time order should reorder only within each round.
func TestRecordsRoundScopedSort(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{5, 2, 9, 1, 4}, map[int]bool{2: true})

	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []uint64{5, 2, 9, 1, 4}, readSampleTimes(t, f, RecordsFileOrder))
	assert.Equal(t, []uint64{2, 5, 9, 1, 4}, readSampleTimes(t, f, RecordsTimeOrder))
}

// TestRecordsRoundScopedSortMultipleRounds checks that a file with
// two explicitly closed rounds sorts each independently.
func TestRecordsRoundScopedSortMultipleRounds(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{30, 10, 20, 99, 1}, map[int]bool{2: true, 4: true})

	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []uint64{30, 10, 20, 99, 1}, readSampleTimes(t, f, RecordsFileOrder))
	assert.Equal(t, []uint64{10, 20, 30, 1, 99}, readSampleTimes(t, f, RecordsTimeOrder))
}

func TestGetSampleEventInfoResolved(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{42}, nil)
	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	rs := f.Records(RecordsFileOrder)
	require.True(t, rs.Next())

	info, err := f.GetSampleEventInfo(rs.Record)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.TimeNS)
	assert.Equal(t, uint32(100), info.PID)
	assert.Equal(t, uint32(200), info.TID)
	assert.NotNil(t, info.ByteOrder)
	assert.Nil(t, info.Format) // EventTypeHardware isn't a tracepoint
}

func TestGetSampleEventInfoInvalidData(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{1}, nil)
	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	_, err = f.GetSampleEventInfo(&RecordComm{})
	assert.ErrorIs(t, err, ErrInvalidData)
}

// TestGetSampleEventInfoIDNotFound exercises the best-effort path
// directly against a *RecordSample whose id never resolved to an
// EventAttr; Records.Next itself never surfaces such a record (it
// silently retries), so this bypasses Records entirely.
func TestGetSampleEventInfoIDNotFound(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{1}, nil)
	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	rec := &RecordSample{Raw: []byte{0xaa, 0xbb, 0xcc}}
	info, err := f.GetSampleEventInfo(rec)
	require.ErrorIs(t, err, ErrIDNotFound)
	require.NotNil(t, info)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, info.RawData)
	assert.Equal(t, binary.LittleEndian, info.ByteOrder)
	assert.Zero(t, info.TimeNS)
	assert.Zero(t, info.CPU)
}

// buildSampleIDAllCommFile builds a file with EventFlagSampleIDAll
// set and a single RecordComm carrying a sample_id trailer, to
// exercise GetNonSampleEventInfo.
func buildSampleIDAllCommFile(t *testing.T) []byte {
	t.Helper()
	order := binary.LittleEndian

	var main bytes.Buffer
	binary.Write(&main, order, int32(7))  // PID
	binary.Write(&main, order, int32(8))  // TID
	main.Write(append([]byte("init"), 0)) // Comm, NUL-terminated

	// sample_id trailer: PID, TID, Time, CPU, Res (trailerBytes == 24
	// for SampleFormatTID|Time|CPU).
	var trailer bytes.Buffer
	binary.Write(&trailer, order, int32(7))
	binary.Write(&trailer, order, int32(8))
	binary.Write(&trailer, order, uint64(55))
	binary.Write(&trailer, order, uint32(3))
	binary.Write(&trailer, order, uint32(0))
	require.Equal(t, 24, trailer.Len())

	var data bytes.Buffer
	body := append(main.Bytes(), trailer.Bytes()...)
	require.NoError(t, binary.Write(&data, order, recordHeader{
		Type: RecordTypeComm,
		Size: uint16(8 + len(body)),
	}))
	data.Write(body)

	return assemblePerfFile(t, SampleFormatTID|SampleFormatTime|SampleFormatCPU, EventFlagSampleIDAll, data.Bytes())
}

func TestGetNonSampleEventInfoResolved(t *testing.T) {
	raw := buildSampleIDAllCommFile(t)
	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	rs := f.Records(RecordsFileOrder)
	require.True(t, rs.Next())
	_, ok := rs.Record.(*RecordComm)
	require.True(t, ok, "expected *RecordComm, got %T", rs.Record)

	info, err := f.GetNonSampleEventInfo(rs.Record)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), info.TimeNS)
	assert.Equal(t, uint32(3), info.CPU)
	assert.Equal(t, uint32(7), info.PID)
	assert.Equal(t, uint32(8), info.TID)
}

// TestGetNonSampleEventInfoNoSampleIDAll checks that a file with no
// EventFlagSampleIDAll attribute reports a plain error distinct from
// the recoverable ErrIDNotFound sentinel, since there's no per-record
// action a caller can take: none of its non-sample records carry
// identifying fields at all.
func TestGetNonSampleEventInfoNoSampleIDAll(t *testing.T) {
	raw := buildRoundScopedFile(t, []uint64{1}, nil)
	f, err := New(bytes.NewReader(raw))
	require.NoError(t, err)

	rs := f.Records(RecordsFileOrder)
	require.True(t, rs.Next())

	_, err = f.GetNonSampleEventInfo(rs.Record)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIDNotFound)
}
