package graph

import (
	"fmt"
	"strings"
)

// LabelSeparator splits the identity from the kind in hover text. Kind names
// never contain it, so splitting on its last occurrence is lossless.
const LabelSeparator = "<br>Type: "

// EncodeLabel returns the hover/selection text for a node.
func EncodeLabel(id string, kind Kind) string {
	return id + LabelSeparator + kind.String()
}

// DecodeLabel recovers the identity and kind from EncodeLabel output.
func DecodeLabel(label string) (string, Kind, error) {
	i := strings.LastIndex(label, LabelSeparator)
	if i < 0 {
		return "", 0, fmt.Errorf("label %q: missing kind", label)
	}
	kind, err := ParseKind(label[i+len(LabelSeparator):])
	if err != nil {
		return "", 0, err
	}
	return label[:i], kind, nil
}
