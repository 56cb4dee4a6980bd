package claims

import (
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

const idDomain = "librarian/claim/v1"

// NormalizeText folds case, collapses whitespace and drops trailing
// sentence punctuation so that trivially different renderings of the same
// statement share an identity.
func NormalizeText(text string) string {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || unicode.IsSpace(r)
	})
}

func normalizeType(claimType string) string {
	return strings.ToLower(strings.TrimSpace(claimType))
}

// ComputeID derives a claim id from normalized text, type and the set of
// evidence source digests. Order and duplicates in sources do not matter.
func ComputeID(text, claimType string, sources []string) string {
	uniq := make(map[string]struct{}, len(sources))
	sorted := make([]string, 0, len(sources))
	for _, s := range sources {
		if _, ok := uniq[s]; ok {
			continue
		}
		uniq[s] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	h, _ := blake2b.New256(nil)
	h.Write([]byte(idDomain))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeType(claimType)))
	for _, s := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return "claim:" + hex.EncodeToString(h.Sum(nil))
}

// ContentKey identifies what a claim says regardless of its evidence.
// Claims sharing a key are siblings for contradiction checks.
func ContentKey(text, claimType string) string {
	sum := blake2b.Sum256([]byte(NormalizeText(text) + "\x00" + normalizeType(claimType)))
	return "content:" + hex.EncodeToString(sum[:16])
}
