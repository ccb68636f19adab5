package executor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/v0xg/screenpilot/internal/driver"
)

func TestInterceptHint(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "driver error text with image",
			err:  errors.New(`element click intercepted: Other element would receive the click: <img class="hero-img wide" alt="Summer sale banner" src="https://cdn.test/img/banner.jpg?v=2">`),
			contains: []string{
				`CSS: img[alt*="Summer sale"]`,
				`XPath: //img[contains(@alt,"Summer sale")]`,
				"CSS class: .hero-img",
				"Image src contains: banner.jpg",
			},
		},
		{
			name:     "structured driver error",
			err:      fmt.Errorf("click: %w", &driver.InterceptedError{Interceptor: `<div class='overlay'><span>x</span></div>`}),
			contains: []string{"CSS class: .overlay", "SUGGESTED SELECTORS"},
		},
		{
			name:     "tag without useful attributes",
			err:      errors.New("other element would receive the click: <span>"),
			contains: []string{"Intercepting element: <span>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := InterceptHint(tt.err)
			for _, want := range tt.contains {
				assert.Contains(t, hint, want)
			}
		})
	}
}

func TestInterceptHintEmpty(t *testing.T) {
	assert.Empty(t, InterceptHint(nil))
	assert.Empty(t, InterceptHint(errors.New("wait timed out")))
}
