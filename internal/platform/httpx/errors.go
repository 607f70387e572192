// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/stockledger/backoffice/internal/shared"
)

// ShortageDetail is the wire form of a shared.Shortage.
type ShortageDetail struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	OnHand      string `json:"on_hand"`
	Requested   string `json:"requested"`
}

// RespondError maps the shared error taxonomy to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		details := make([]ShortageDetail, 0, len(stockErr.Shortages))
		for _, s := range stockErr.Shortages {
			details = append(details, ShortageDetail{
				ProductID:   s.ProductID,
				ProductName: s.ProductName,
				OnHand:      s.OnHand.String(),
				Requested:   s.Requested.String(),
			})
		}
		JSON(w, http.StatusUnprocessableEntity, struct {
			ProblemDetail
			Shortages []ShortageDetail `json:"shortages"`
		}{
			ProblemDetail: ProblemDetail{Title: "Insufficient Stock", Status: http.StatusUnprocessableEntity, Detail: err.Error()},
			Shortages:     details,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		slog.Default().Error("unhandled request error", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
