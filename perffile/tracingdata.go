// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"

	"github.com/aclements/go-eventheader/tracefmt"
)

// parseTracingData reads the TRACING_DATA feature section, which
// embeds a copy of the recording machine's tracefs "format" files (the
// same text tracefmt.Parse expects) for every ftrace event that was
// live when perf wrote the file. This is perf's version of trace-cmd's
// "flyrecord" header; see read_tracing_data in perf's
// util/trace-event-read.c and trace-cmd's trace-input.c for the
// on-disk layout (the pack carries no copy of either, so this is
// reconstructed from the publicly documented format).
//
// The embedded format text is how an EventTracepoint sample's raw
// bytes get decoded: Attr.Event.(EventTracepoint) gives the ftrace
// event ID, and TracepointFormat looks up the tracefmt.Format parsed
// from this section for that ID.
func (f *File) parseTracingData(sec fileSection) error {
	data, err := sec.data(f.r)
	if err != nil {
		return err
	}
	bd := bufDecoder{data, binary.BigEndian} // order is irrelevant until we hit multi-byte fields

	magic := make([]byte, 3)
	bd.bytes(magic)
	if magic[0] != 0x17 || magic[1] != 0x08 || magic[2] != 0x44 {
		return fmt.Errorf("tracing data: bad magic %x", magic)
	}
	if tag := bd.cstring(); tag != "tracing" {
		return fmt.Errorf("tracing data: bad tag %q", tag)
	}
	bd.cstring() // version string, e.g. "0.6"; format hasn't changed across versions we care about

	var order binary.ByteOrder = binary.LittleEndian
	if bd.u8() != 0 {
		order = binary.BigEndian
	}
	bd.order = order

	longSize := bd.u8()
	longSize64 := longSize == 8

	bd.u32() // page size; not needed to parse format text

	readBlob := func() []byte {
		tag := bd.cstring() // "header_page" or "header_event"
		_ = tag
		size := bd.u64()
		blob := make([]byte, size)
		bd.bytes(blob)
		return blob
	}
	readBlob() // header_page
	readBlob() // header_event

	if f.tracepointFormats == nil {
		f.tracepointFormats = make(map[uint32]*tracefmt.Format)
	}

	addFormat := func(system, text string) error {
		fm, err := tracefmt.Parse(text, longSize64)
		if err != nil {
			return err
		}
		if fm == nil {
			return nil
		}
		fm.SystemName = system
		f.tracepointFormats[fm.ID] = fm
		return nil
	}

	// Common ftrace events (system "ftrace": function, print, etc).
	nrFtraceEvents := bd.u32()
	for i := uint32(0); i < nrFtraceEvents; i++ {
		size := bd.u64()
		text := make([]byte, size)
		bd.bytes(text)
		if err := addFormat("ftrace", string(text)); err != nil {
			return err
		}
	}

	// Per-subsystem events (system "sched", "syscalls", etc).
	nrSystems := bd.u32()
	for i := uint32(0); i < nrSystems; i++ {
		system := bd.cstring()
		nrEvents := bd.u32()
		for j := uint32(0); j < nrEvents; j++ {
			size := bd.u64()
			text := make([]byte, size)
			bd.bytes(text)
			if err := addFormat(system, string(text)); err != nil {
				return err
			}
		}
	}

	// What follows (kallsyms, printk formats, saved cmdlines) isn't
	// needed to decode samples, so we stop here.
	return nil
}

// TracepointFormat returns the parsed tracefmt.Format for the ftrace
// event id, as extracted from the file's TRACING_DATA feature
// section, or nil if the file carries no such section or no format
// for that id.
func (f *File) TracepointFormat(id uint32) *tracefmt.Format {
	return f.tracepointFormats[id]
}
