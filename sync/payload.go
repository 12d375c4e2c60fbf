package sync

import "github.com/google/uuid"

// BuildRecipientValues translates the configured field mappings plus a live
// user record into the flat ador name -> value payload the XMPL API expects.
//
// Mappings are applied in order, so if the same API field name is configured
// twice the last mapping wins. A SourceGeneratedGUID mapping emits a fresh
// random v4 UUID per mapping per invocation, never cached or reused. Sources
// the user record cannot answer are omitted from the payload; whether an
// absent field matters is the remote API's concern.
//
// The function is pure apart from UUID generation: no storage, no network.
func BuildRecipientValues(mappings []FieldMapping, user UserRecord) map[string]string {
	values := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Source == SourceGeneratedGUID {
			values[m.APIField] = uuid.NewString()
			continue
		}
		if v, exists := user.Value(m.Source); exists {
			values[m.APIField] = v
		}
	}
	return values
}
