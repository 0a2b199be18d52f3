// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perffile_records_total",
		Help: "Number of perf.data records read, by numeric record type.",
	}, []string{"type"})
	recordErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perffile_record_errors_total",
		Help: "Number of perf.data record read errors, by kind.",
	}, []string{"kind"})
)
