package fetch

import "bytes"

// Kind identifies the structural signature a downloaded document must carry.
type Kind struct {
	Name  string
	Magic []byte
}

// KindPDF matches documents beginning with the PDF magic marker.
var KindPDF = Kind{Name: "pdf", Magic: []byte("%PDF")}

// Matches reports whether data begins with the kind's magic bytes.
func (k Kind) Matches(data []byte) bool {
	if len(k.Magic) == 0 {
		return len(data) > 0
	}
	return bytes.HasPrefix(data, k.Magic)
}
