package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

type errorMapping struct {
	target error
	status int
	title  string
}

// Order matters: ErrInternal must win over anything an InvariantError wraps.
var errorMappings = []errorMapping{
	{shared.ErrInternal, http.StatusInternalServerError, "Internal Error"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrDuplicate, http.StatusConflict, "Duplicate"},
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{shared.ErrInsufficientStock, http.StatusConflict, "Insufficient Stock"},
	{shared.ErrInvalidTransition, http.StatusConflict, "Invalid Transition"},
	{shared.ErrConcurrentModification, http.StatusConflict, "Concurrent Modification"},
	{shared.ErrBelowReserved, http.StatusConflict, "Stock Reserved"},
	{shared.ErrOverDelivery, http.StatusUnprocessableEntity, "Over Delivery"},
	{shared.ErrInvalidReturnRequest, http.StatusUnprocessableEntity, "Invalid Return Request"},
}

// RespondError writes the problem body matching err. Internal and unknown
// errors carry no detail.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		Problem(w, http.StatusBadRequest, "Validation Failed", describeFields(fieldErrs))
		return
	}
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		detail := err.Error()
		if m.status >= http.StatusInternalServerError {
			detail = ""
		}
		Problem(w, m.status, m.title, detail)
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

func describeFields(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+" failed "+rule)
	}
	return strings.Join(parts, "; ")
}
