package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ValidationErrorf("bad"), http.StatusBadRequest},
		{shared.ErrInsufficientStock, http.StatusConflict},
		{shared.ErrInvalidTransition, http.StatusConflict},
		{shared.ErrConcurrentModification, http.StatusConflict},
		{shared.ErrOverDelivery, http.StatusUnprocessableEntity},
		{shared.ErrInvalidReturnRequest, http.StatusUnprocessableEntity},
		{&shared.InvariantError{Cause: shared.ErrInvalidCommit}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
	}
}

func TestInvariantErrorsHideDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, &shared.InvariantError{Cause: shared.ErrInvalidRelease, ProductID: 9})
	require.NotContains(t, rr.Body.String(), "release")
}

type bindTarget struct {
	Name string `json:"name" validate:"required"`
	Qty  int64  `json:"qty" validate:"gt=0"`
}

func TestBindValidates(t *testing.T) {
	v := validator.New()

	var ok bindTarget
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","qty":2}`))
	require.NoError(t, Bind(req, v, &ok))
	require.Equal(t, int64(2), ok.Qty)

	var bad bindTarget
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","qty":0}`))
	err := Bind(req, v, &bad)
	require.Error(t, err)
	rr := httptest.NewRecorder()
	RespondError(rr, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	require.ErrorIs(t, Bind(req, v, &bad), shared.ErrValidation)
}

func TestValidationDetailNamesFields(t *testing.T) {
	var target bindTarget
	err := validator.New().Struct(&target)
	rr := httptest.NewRecorder()
	RespondError(rr, err)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "Name failed required; Qty failed gt=0", problem.Detail)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	var target bindTarget
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","qty":1}{"name":"b"}`))
	require.ErrorIs(t, Bind(req, nil, &target), shared.ErrValidation)
}

func TestIDParam(t *testing.T) {
	for raw, ok := range map[string]bool{"12": true, "0": false, "-3": false, "abc": false} {
		rc := chi.NewRouteContext()
		rc.URLParams.Add("orderID", raw)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
		id, err := IDParam(req, "orderID")
		if ok {
			require.NoError(t, err)
			require.Equal(t, int64(12), id)
		} else {
			require.ErrorIs(t, err, shared.ErrValidation, raw)
		}
	}
}
