// Package handlers holds the thin HTTP handlers of the chatbot API. Handlers
// decode and validate input, call a service, and map domain errors onto
// status codes through HandleServiceError.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/upb/rag-chatbot/utils"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "humanoid-robotics-chatbot"

// WelcomeMessage is returned by GET /.
const WelcomeMessage = "Welcome to the Humanoid Robotics Chatbot API!"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// MessageResponse is a body carrying a single message.
type MessageResponse struct {
	Message string `json:"message"`
}

// HandleRoot handles GET /
func HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, MessageResponse{Message: WelcomeMessage})
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON decodes a bounded JSON body into v, rejecting trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
