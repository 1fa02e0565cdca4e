package governance

import (
	"fmt"
	"log"

	"github.com/gridware/genai-gateway/internal/fault"
)

// Document is the retrieval result shape the isolation check inspects.
// Defined here to keep governance free of a dependency on the retrieval
// packages.
type Document interface {
	DocID() string
	OwnerTenant() string
}

// CheckTenantIsolation verifies every retrieved document belongs to the
// requesting tenant. A document with an empty owner is treated as shared
// and passes. Any foreign document fails the whole batch.
func CheckTenantIsolation(docs []Document, requestingTenant string) error {
	for _, doc := range docs {
		owner := doc.OwnerTenant()
		if owner == "" || owner == requestingTenant {
			continue
		}
		log.Printf("[ERROR] governance: cross-tenant document detected requesting=%s owner=%s doc=%s",
			requestingTenant, owner, doc.DocID())
		return fault.Wrap(fault.KindCrossTenantLeakage, "governance.CheckTenantIsolation",
			fmt.Errorf("document %s belongs to another tenant", doc.DocID()))
	}
	return nil
}
