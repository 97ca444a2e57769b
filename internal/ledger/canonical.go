package ledger

import (
	"crypto/sha1" // #nosec G505 -- identity token derivation, not a security boundary
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var (
	longDigitsRE = regexp.MustCompile(`\d{16,22}`)
	safeTokenRE  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// cleanText strips control and format characters and trims whitespace.
func cleanText(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// CanonicalCode derives the stable identity key from a raw code string and
// the record's source URL. Preference order: a 16-22 digit token in either
// input, then a long digit run assembled from the code, then the cleaned raw
// inputs themselves. Pure and deterministic; no ledger access.
func CanonicalCode(rawCode, sourceURL string) (string, error) {
	codeText := cleanText(rawCode)
	urlText := cleanText(sourceURL)
	if decoded, err := url.QueryUnescape(urlText); err == nil {
		urlText = decoded
	}

	for _, candidate := range []string{codeText, urlText} {
		if match := longDigitsRE.FindString(candidate); match != "" {
			return match, nil
		}
	}

	var digits strings.Builder
	for _, r := range codeText {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	switch d := digits.String(); {
	case len(d) >= 18:
		return d[:18], nil
	case len(d) >= 16:
		return d, nil
	}

	if validIdentity(codeText) {
		return codeText, nil
	}
	if validIdentity(urlText) {
		return urlText, nil
	}
	return "", fmt.Errorf("%w: no usable code in %q / %q", ErrInvalidIdentity, rawCode, sourceURL)
}

// SafeToken reduces a unique code to an ASCII-safe join key for downstream
// storage identifiers. When nothing of the natural code survives the
// reduction, it falls back to a stable SHA-1 derived token so the mapping
// stays deterministic.
func SafeToken(code string) string {
	text := safeTokenRE.ReplaceAllString(cleanText(code), "-")
	text = strings.Trim(text, "-._")
	if text != "" {
		return text
	}
	sum := sha1.Sum([]byte(code)) // #nosec G401 -- stable token, not a credential
	return "x" + hex.EncodeToString(sum[:])[:16]
}
