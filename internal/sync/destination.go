package sync

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const reservedChars = `<>:"\|?*`

// Destination flattens a remote path into a single file name below dir:
// "/dir/sub/a.csv" becomes dir + "/dir-sub-a.csv".
func Destination(dir, sourcePath string) string {
	name := strings.ReplaceAll(strings.TrimPrefix(sourcePath, "/"), "/", "-")
	return filepath.Join(dir, Sanitize(name))
}

// Sanitize transliterates name to ASCII. Accents are dropped, anything else
// that is not printable ASCII or not allowed in file names becomes "_".
func Sanitize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII, !unicode.IsPrint(r), strings.ContainsRune(reservedChars, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "" || out == "." || out == ".." {
		return strings.Repeat("_", max(len(out), 1))
	}
	return out
}
