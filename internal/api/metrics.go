// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BlobsPulledCounter is a prometheus.CounterVec.
	BlobsPulledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_pulled_blobs",
			Help: "Counts blobs that are pulled from the registry.",
		},
		[]string{"repo"},
	)
	// BlobsPushedCounter is a prometheus.CounterVec.
	BlobsPushedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_pushed_blobs",
			Help: "Counts blobs that are pushed into the registry.",
		},
		[]string{"repo"},
	)
	// ManifestsPulledCounter is a prometheus.CounterVec.
	ManifestsPulledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_pulled_manifests",
			Help: "Counts manifests that are pulled from the registry.",
		},
		[]string{"repo"},
	)
	// ManifestsPushedCounter is a prometheus.CounterVec.
	ManifestsPushedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_pushed_manifests",
			Help: "Counts manifests that are pushed into the registry.",
		},
		[]string{"repo"},
	)
	// UploadsAbortedCounter is a prometheus.CounterVec.
	UploadsAbortedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_aborted_uploads",
			Help: "Counts blob uploads that fail and get aborted.",
		},
		[]string{"repo"},
	)
	// PackageDownloadsCounter is a prometheus.CounterVec.
	PackageDownloadsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packgate_package_downloads",
			Help: "Counts archive downloads through the package endpoints.",
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(BlobsPulledCounter)
	prometheus.MustRegister(BlobsPushedCounter)
	prometheus.MustRegister(ManifestsPulledCounter)
	prometheus.MustRegister(ManifestsPushedCounter)
	prometheus.MustRegister(UploadsAbortedCounter)
	prometheus.MustRegister(PackageDownloadsCounter)
}
