package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteRbacDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRbacDenied(rec, []string{"tenant:delete", "billing:manage"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeError(t, rec)
	assert.Equal(t, CodeRbacDenied, resp.Error)
	assert.Equal(t, []string{"tenant:delete", "billing:manage"}, resp.DeniedActions)
	assert.Empty(t, resp.Message)
}

func TestWriteForbidden_DistinctFromRbacDenied(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteForbidden(rec, "not a member of this tenant")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeForbidden, resp.Error)
	assert.Equal(t, "not a member of this tenant", resp.Message)
	assert.Nil(t, resp.DeniedActions)
}

func TestWriteRedemptionError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRedemptionError(rec, "Coupon has already been redeemed")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeRedemptionError, resp.Error)
	assert.Equal(t, "Coupon has already been redeemed", resp.Message)
}

func TestWriteInternalError_HidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, CodeInternal, resp.Error)
	assert.Equal(t, "internal server error", resp.Message)
}

func TestWriteSuccessAndCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rec, map[string]int{"count": 3}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count": 3}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, map[string]int64{"id": 7}))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
