package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedirectHandlers cover the trivial public surface: the health index and
// the /go redirector.
type RedirectHandlers struct{}

// NewRedirectHandlers creates the redirect handler set.
func NewRedirectHandlers() *RedirectHandlers {
	return &RedirectHandlers{}
}

// Index handles GET / with an empty 200.
func (handlers *RedirectHandlers) Index(context *gin.Context) {
	context.String(http.StatusOK, "")
}

// GoURL handles GET /go?url= with a 302 to the URL. Non-ASCII bytes are
// dropped from the target the way the original redirector sanitised it.
func (handlers *RedirectHandlers) GoURL(context *gin.Context) {
	targetURL := asciiOnly(context.Query(queryParameterURL))
	if targetURL == "" {
		context.Status(http.StatusBadRequest)
		return
	}
	context.Redirect(http.StatusFound, targetURL)
}

func asciiOnly(input string) string {
	return strings.Map(func(character rune) rune {
		if character > 127 {
			return -1
		}
		return character
	}, input)
}
