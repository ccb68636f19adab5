package server

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"

	"github.com/v0xg/screenpilot/internal/observe"
)

var (
	errNotDataURL = errors.New("screenshot must be a base64 image data URL")

	dataURLPrefix = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,`)
)

// decodeDataURL returns the image bytes and MIME type of a
// data:image/...;base64 URL
func decodeDataURL(s string) ([]byte, string, error) {
	m := dataURLPrefix.FindStringSubmatch(s)
	if m == nil {
		return nil, "", errNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s[len(m[0]):]))
	if err != nil {
		return nil, "", errors.Join(errNotDataURL, err)
	}
	if len(data) == 0 {
		return nil, "", errNotDataURL
	}
	return data, strings.ToLower(m[1]), nil
}

// digestSnippet turns the page text sent by the extension into a DOM
// digest. A snippet that is already a digest, or plain text, passes
// through; raw markup is digested with the same rules as a live page.
func digestSnippet(snippet string, limits observe.Limits) (string, error) {
	trimmed := strings.TrimSpace(snippet)
	if trimmed == "" || strings.HasPrefix(trimmed, "<meta title=") || !strings.HasPrefix(trimmed, "<") {
		if r := []rune(trimmed); limits.MaxChars > 0 && len(r) > limits.MaxChars {
			return string(r[:limits.MaxChars]), nil
		}
		return trimmed, nil
	}
	return observe.DigestFromHTML(trimmed, limits)
}
