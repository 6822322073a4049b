package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/notify"
	"go.uber.org/zap"
)

// requireToken rejects requests whose notify.TokenHeader does not match token.
func requireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(notify.TokenHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, notify.Result{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sendConfirmation is the endpoint the HTTP dispatcher posts to. It always
// answers with a notify.Result body.
func (s *server) sendConfirmation(w http.ResponseWriter, r *http.Request) {
	var c notify.Confirmation
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, notify.Result{Error: "invalid confirmation body"})
		return
	}
	if err := c.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, notify.Result{Error: err.Error()})
		return
	}

	if err := s.confirmations.HandleConfirmation(r.Context(), c); err != nil {
		logging.FromContext(r.Context()).Error("failed to send order confirmation",
			zap.String("order_number", c.Order.OrderNumber),
			zap.Error(err))
		writeJSON(w, http.StatusBadGateway, notify.Result{Error: "failed to send confirmation"})
		return
	}

	writeJSON(w, http.StatusOK, notify.Result{Success: true})
}
