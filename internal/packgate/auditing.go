// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"context"

	"github.com/sapcc/go-bits/audittools"
)

// InitAuditTrail initializes the audit trail for an API server process.
// Audit events are logged to standard output and, if configured through the
// PACKGATE_AUDIT_RABBITMQ_URI environment variable, published to a RabbitMQ
// queue.
func InitAuditTrail(ctx context.Context) (audittools.Auditor, error) {
	return audittools.NewAuditor(ctx, audittools.AuditorOpts{
		EnvPrefix: "PACKGATE_AUDIT_RABBITMQ",
		Observer: audittools.Observer{
			TypeURI: "service/package-registry",
			Name:    "packgate",
			ID:      audittools.GenerateUUID(),
		},
	})
}
