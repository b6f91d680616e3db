// Package problem writes the JSON response envelopes used by every API route:
// {"statusCode": n, "data": ...} for success and
// {"statusCode": n, "message": "..."} for errors.
package problem

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/json; charset=utf-8"

type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Write sends an error envelope. An empty message is filled from err in
// development and test, and from the status text elsewhere. 5xx responses
// are logged at error level and 4xx at warn through the request logger.
func Write(w http.ResponseWriter, r *http.Request, status int, message string, err error, env string) {
	if message == "" {
		if err != nil && (env == "development" || env == "test") {
			message = err.Error()
		} else {
			message = http.StatusText(status)
		}
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		if event != nil {
			event.
				Err(err).
				Int("status", status).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg(message)
		}
	}

	WriteEnvelope(w, Envelope{StatusCode: status, Message: message})
}

// WriteData sends a success envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteEnvelope(w, Envelope{StatusCode: status, Data: data})
}

func WriteEnvelope(w http.ResponseWriter, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		fallback := fmt.Sprintf("{\"statusCode\":500,\"message\":%q}", http.StatusText(http.StatusInternalServerError))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(envelope.StatusCode)
	_, _ = w.Write(payload)
}

// SaltMissingMessage is sent when token routes are used before an
// administrator configured the server salt.
const SaltMissingMessage = "Administrators haven't set a salt token, please contact them!"
