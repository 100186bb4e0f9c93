// Package snippet stores reconstructed source text for declaration nodes.
package snippet

import (
	"encoding/json"
	"io"
	"sort"
)

// Map maps a declaration node identity to its reconstructed source text.
// Only Function and Class identities are stored; a missing key is a normal
// outcome for any other node.
type Map map[string]string

// Lookup returns the snippet stored for id.
func (m Map) Lookup(id string) (string, bool) {
	text, ok := m[id]
	return text, ok
}

// IDs returns the stored identities in sorted order.
func (m Map) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Export writes the map as a flat JSON object of identity to text.
// encoding/json sorts map keys, so the output is stable.
func (m Map) Export(w io.Writer) error {
	if m == nil {
		m = Map{}
	}
	return json.NewEncoder(w).Encode(map[string]string(m))
}
