// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"github.com/sapcc/go-api-declarations/cadf"
)

// CADFReasonOK is a helper to make cadf.Event literals shorter.
var CADFReasonOK = cadf.Reason{
	ReasonType: "HTTP",
	ReasonCode: "200",
}
