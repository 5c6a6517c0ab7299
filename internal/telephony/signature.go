package telephony

import (
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

const SignatureHeader = "X-Twilio-Signature"

// SignatureMiddleware rejects webhook requests whose signature does not
// match the auth token. publicBaseURL is the externally visible origin the
// provider signed against; when empty the request's own host is used.
func SignatureMiddleware(authToken, publicBaseURL string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := client.NewRequestValidator(authToken)
	publicBaseURL = strings.TrimRight(publicBaseURL, "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(SignatureHeader)
			if sig == "" {
				logger.Warn("webhook without signature", zap.String("path", r.URL.Path))
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			params := map[string]string{}
			if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
				r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
				if err := r.ParseForm(); err != nil {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
				for k, v := range r.PostForm {
					if len(v) > 0 {
						params[k] = v[0]
					}
				}
			}

			url := requestURL(r, publicBaseURL)
			if !validator.Validate(url, params, sig) {
				logger.Warn("webhook signature mismatch",
					zap.String("path", r.URL.Path),
					zap.String("call_sid", params["CallSid"]),
				)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestURL(r *http.Request, publicBaseURL string) string {
	if publicBaseURL != "" {
		return publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
