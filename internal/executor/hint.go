package executor

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/v0xg/screenpilot/internal/driver"
)

var (
	interceptPattern = regexp.MustCompile(`(?i)other element would receive the click:\s*(<[^>]*>)`)
	attrPattern      = regexp.MustCompile(`([a-zA-Z][\w:-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// InterceptHint builds alternative selector suggestions from the element
// that intercepted a click. It prefers a structured driver error and falls
// back to parsing the error text. Returns "" when nothing useful is found.
func InterceptHint(err error) string {
	if err == nil {
		return ""
	}
	tag := ""
	var intercepted *driver.InterceptedError
	if errors.As(err, &intercepted) {
		tag = openingTag(intercepted.Interceptor)
	}
	if tag == "" {
		if m := interceptPattern.FindStringSubmatch(err.Error()); m != nil {
			tag = m[1]
		}
	}
	if tag == "" {
		return ""
	}
	return suggestSelectors(tag)
}

func openingTag(markup string) string {
	start := strings.Index(markup, "<")
	if start < 0 {
		return ""
	}
	end := strings.Index(markup[start:], ">")
	if end < 0 {
		return ""
	}
	return markup[start : start+end+1]
}

func suggestSelectors(tag string) string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(tag, -1) {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		attrs[strings.ToLower(m[1])] = v
	}

	var suggestions []string
	if alt := strings.Fields(attrs["alt"]); len(alt) > 0 {
		words := strings.Join(alt[:min(2, len(alt))], " ")
		suggestions = append(suggestions,
			fmt.Sprintf(`CSS: img[alt*="%s"]`, words),
			fmt.Sprintf(`XPath: //img[contains(@alt,"%s")]`, words))
	}
	if class := strings.Fields(attrs["class"]); len(class) > 0 {
		suggestions = append(suggestions, "CSS class: ."+class[0])
	}
	if src := attrs["src"]; src != "" {
		suggestions = append(suggestions, "Image src contains: "+path.Base(strings.SplitN(src, "?", 2)[0]))
	}
	if len(suggestions) == 0 {
		return "Intercepting element: " + tag
	}
	return "Intercepting element: " + tag + "\nSUGGESTED SELECTORS: " + strings.Join(suggestions, ", ")
}
