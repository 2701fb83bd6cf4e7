package badger

import (
	"strings"

	"github.com/poiesic/tributary/core"
)

// Key prefixes for different data types
const (
	artifactPrefix = "art"
	documentPrefix = "doc"
	progressPrefix = "prg"
	claimPrefix    = "clm"
	cursorPrefix   = "cur"
)

// makeArtifactKey generates a key for an artifact.
// Format: art:tenant:entityID
func makeArtifactKey(tenantID, entityID string) []byte {
	return []byte(artifactPrefix + ":" + tenantID + ":" + entityID)
}

// makeArtifactSourcePrefix generates a prefix covering one source's artifacts.
// Entity ids start with "<source>_", so the prefix is exact.
func makeArtifactSourcePrefix(tenantID string, source core.Source) []byte {
	return []byte(artifactPrefix + ":" + tenantID + ":" + string(source) + "_")
}

// makeDocumentKey generates a key for a document.
// Format: doc:tenant:entityID
func makeDocumentKey(tenantID, entityID string) []byte {
	return []byte(documentPrefix + ":" + tenantID + ":" + entityID)
}

// makeDocumentSourcePrefix generates a prefix covering one source's documents.
func makeDocumentSourcePrefix(tenantID string, source core.Source) []byte {
	return []byte(documentPrefix + ":" + tenantID + ":" + string(source) + "_")
}

// makeDocumentTenantPrefix generates a prefix covering a tenant's documents.
func makeDocumentTenantPrefix(tenantID string) []byte {
	return []byte(documentPrefix + ":" + tenantID + ":")
}

// entityIDFromKey strips the "prefix:tenant:" part of an artifact or
// document key. Tenant ids never contain ':'.
func entityIDFromKey(key []byte) string {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// makeProgressKey generates a key for one progress counter.
// Format: prg:tenant:backfillID:counter
func makeProgressKey(key core.ProgressKey, counter core.Counter) []byte {
	return []byte(progressPrefix + ":" + key.TenantID + ":" + key.BackfillID + ":" + string(counter))
}

// makeClaimKey generates a key for a one-shot claim.
// Format: clm:scope:key
func makeClaimKey(scope, key string) []byte {
	return []byte(claimPrefix + ":" + scope + ":" + key)
}

// makeCursorKey generates a key for a tenant's sync cursor.
// Format: cur:tenant:vendor
func makeCursorKey(tenantID string, vendor core.Vendor) []byte {
	return []byte(cursorPrefix + ":" + tenantID + ":" + string(vendor))
}
