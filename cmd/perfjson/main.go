// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command perfjson decodes the tracepoint samples in a perf.data
// profile to newline-delimited JSON, one object per sample.
package main

import (
	"bufio"
	"net/http"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aclements/go-eventheader/eventheader"
	"github.com/aclements/go-eventheader/perffile"
	"github.com/aclements/go-eventheader/perfjson"
	"github.com/aclements/go-eventheader/tracefmt"
)

type options struct {
	Input          string `short:"i" long:"input" default:"perf.data" description:"input perf.data file"`
	Order          string `long:"order" default:"time" description:"sort order: file, time, causal"`
	IntHexAsString bool   `long:"int-hex-as-string" description:"render hex-formatted integers as quoted strings instead of JSON numbers"`
	Meta           bool   `long:"meta" description:"include a meta object (time, cpu, pid, tid) on every event"`
	MetricsAddr    string `long:"metrics-addr" description:"if set, serve Prometheus metrics on this address (e.g. :9090)"`
}

func main() {
	log := logrus.New()

	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		log.WithError(err).Fatal("parsing flags")
	}

	order, ok := parseOrder(opts.Order)
	if !ok {
		log.Fatalf("unknown order %q", opts.Order)
	}

	if opts.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.WithField("addr", opts.MetricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(opts.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}

	f, err := perffile.Open(opts.Input)
	if err != nil {
		log.WithError(err).Fatal("opening perf.data file")
	}
	defer f.Close()

	out := bufio.NewWriterSize(os.Stdout, 1<<20)
	defer out.Flush()
	sink := perfjson.NewJSONSink(out)
	driver := &perfjson.Driver{Opts: perfjson.MetaOptions{
		IncludeTime:    opts.Meta,
		IncludeCPU:     opts.Meta,
		IncludePID:     opts.Meta,
		IncludeTID:     opts.Meta,
		IntHexAsString: opts.IntHexAsString,
	}}
	enum := eventheader.New(eventheader.DecoderOptions{})

	emit := func() {
		sink.Newline()
		if err := sink.Flush(); err != nil {
			log.WithError(err).Fatal("writing JSON output")
		}
	}

	rs := f.Records(order)
	for rs.Next() {
		info, err := f.GetSampleEventInfo(rs.Record)
		if err != nil {
			if err == perffile.ErrIDNotFound {
				log.Warn("sample with unresolved attribute id, emitting best-effort info")
				driver.WriteErrorEvent(sink, info, err.Error())
				emit()
			}
			// Any other error means this isn't a sample record
			// (mmap, comm, exit, ...); nothing to decode to JSON.
			continue
		}
		if info.Format == nil {
			log.Warn("sample event has no tracefs format, emitting header-only")
			driver.WriteErrorEvent(sink, info, perffile.ErrNoFormat.Error())
			emit()
			continue
		}

		switch info.Format.DecodingStyle {
		case tracefmt.EventHeader:
			payload := info.RawData[info.Format.CommonFieldsSize:]
			// The keyword is the tracepoint attribute's Config word
			// (its EventTracepoint id), not the per-sample id.
			var keyword uint64
			if s, ok := rs.Record.(*perffile.RecordSample); ok {
				if tp, ok := s.EventAttr.Event.(perffile.EventTracepoint); ok {
					keyword = uint64(tp)
				}
			}
			if !enum.StartEvent(payload, keyword) {
				kind, msg := enum.LastError()
				log.WithFields(logrus.Fields{"kind": kind, "msg": msg}).Warn("decoding EventHeader payload")
				reason := (&perfjson.EnumeratorError{Kind: kind, Msg: msg}).Error()
				driver.WriteErrorEvent(sink, info, reason)
				emit()
				continue
			}
			if err := driver.WriteEvent(sink, info, enum); err != nil {
				log.WithError(err).Warn("writing event")
			}
		default:
			driver.WriteTraceFields(sink, info)
		}
		emit()
	}
	if err := rs.Err(); err != nil {
		log.WithError(err).Fatal("reading perf.data records")
	}
}

func parseOrder(order string) (perffile.RecordsOrder, bool) {
	switch order {
	case "file":
		return perffile.RecordsFileOrder, true
	case "time":
		return perffile.RecordsTimeOrder, true
	case "causal":
		return perffile.RecordsCausalOrder, true
	}
	return 0, false
}
