package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"walletlend/native/moneymarket"
)

const requestLimit = 1 << 20 // 1 MiB

var errNoCaller = errors.New("caller not authenticated")

// statusFor maps core errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, moneymarket.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, moneymarket.ErrWalletLocked):
		return http.StatusLocked
	case errors.Is(err, moneymarket.ErrUnsupportedMarket),
		errors.Is(err, moneymarket.ErrZeroAmount),
		errors.Is(err, moneymarket.ErrInvalidFraction):
		return http.StatusBadRequest
	case errors.Is(err, moneymarket.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, moneymarket.ErrLiquidityQueryFailed),
		errors.Is(err, moneymarket.ErrExternalCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = http.StatusText(status)
	}
	// Internal failures are not echoed to clients.
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
