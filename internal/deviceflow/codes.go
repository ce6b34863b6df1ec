package deviceflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/wrale/devicelogin/internal/validation"
)

// newDeviceCode returns DeviceCodeLength hex characters of crypto randomness
func newDeviceCode() (string, error) {
	buf := make([]byte, DeviceCodeLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// newUserCode draws a display form user code from validation.Charset,
// never using a character more than validation.MaxRepeats times.
func newUserCode() (string, error) {
	const charsetLen = len(validation.Charset)
	// Largest multiple of charsetLen that fits in a byte; bytes at or above it are rejected
	const limit = 256 - 256%charsetLen

	code := make([]byte, 0, validation.CodeLength)
	var used [charsetLen]int
	var pool [64]byte

	for len(code) < validation.CodeLength {
		if _, err := rand.Read(pool[:]); err != nil {
			return "", fmt.Errorf("reading randomness: %w", err)
		}
		for _, b := range pool {
			if int(b) >= limit {
				continue
			}
			i := int(b) % charsetLen
			if used[i] == validation.MaxRepeats {
				continue
			}
			used[i]++
			code = append(code, validation.Charset[i])
			if len(code) == validation.CodeLength {
				break
			}
		}
	}
	return validation.FormatCode(string(code)), nil
}

// verificationURIs returns the page where users type their code and, for a
// well formed code, the same page with the code prefilled (RFC 8628 3.3.1).
func (f *Flow) verificationURIs(userCode string) (uri, complete string) {
	uri, err := url.JoinPath(f.baseURL, "device")
	if err != nil {
		return "", ""
	}

	canonical, err := validation.Canonical(userCode)
	if err != nil {
		return uri, ""
	}
	return uri, uri + "?" + url.Values{"user_code": {validation.FormatCode(canonical)}}.Encode()
}
