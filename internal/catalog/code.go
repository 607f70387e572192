package catalog

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackInitials is used when a name yields no ASCII letters.
const FallbackInitials = "SP"

// foldASCII strips combining marks after canonical decomposition. The
// Vietnamese đ/Đ have no decomposition and are mapped explicitly.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.NewReplacer("đ", "d", "Đ", "D").Replace(folded)
}

// Initials returns the uppercase first letters of the first two words of
// name. A word that does not start with an ASCII letter contributes nothing.
func Initials(name string) string {
	var b strings.Builder
	words := strings.Fields(foldASCII(name))
	if len(words) > 2 {
		words = words[:2]
	}
	for _, w := range words {
		r := []rune(w)[0]
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	if b.Len() == 0 {
		return FallbackInitials
	}
	return b.String()
}

// GenerateCode derives the product code from name and id, e.g.
// ("Đèn LED âm trần", 7) -> "DL-007".
func GenerateCode(name string, id int64) string {
	return fmt.Sprintf("%s-%03d", Initials(name), id)
}
