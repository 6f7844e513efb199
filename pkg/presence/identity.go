package presence

import (
	"strings"

	"github.com/inklet-io/inklet/internal/rand"
)

// DisplayNameFromEmail derives the collaborator label shown next to remote
// cursors: the local part of the email address.
func DisplayNameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

const hexDigits = "0123456789abcdef"

// RandomColor picks a display color for a collaborator's cursor overlay.
func RandomColor() string {
	var b strings.Builder
	b.WriteByte('#')
	for i := 0; i < 6; i++ {
		b.WriteByte(hexDigits[rand.IntN(len(hexDigits))])
	}
	return b.String()
}
