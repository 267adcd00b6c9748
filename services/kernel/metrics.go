// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation metrics, registered with the default registry.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdk_kernel_operations_total",
		Help: "Kernel operations by operation and result code",
	}, []string{"op", "code"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hdk_kernel_operation_duration_seconds",
		Help:    "Time to execute a kernel operation, lock wait included",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10},
	}, []string{"op"})

	storeLiveEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hdk_kernel_store_live_entries",
		Help: "Live interned entries per table",
	}, []string{"table"})
)
