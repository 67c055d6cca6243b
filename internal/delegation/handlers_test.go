package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store Store, verifier *Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(store, verifier)
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func postDelegation(t *testing.T, r *gin.Engine, req StoreRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/delegations", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, httpReq)
	return w
}

func TestStoreDelegation_Success(t *testing.T) {
	v := NewVerifier(testChainID, testManager)
	store := NewMemoryStore()
	r := newTestRouter(store, v)

	d := signedDelegation(t, v)
	w := postDelegation(t, r, StoreRequest{UserAddress: d.Delegator, Delegation: d})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := store.Get(context.Background(), d.Delegator)
	require.NoError(t, err)
	assert.Equal(t, d.Signature, got.Signature)
}

func TestStoreDelegation_ValidationFailure(t *testing.T) {
	r := newTestRouter(NewMemoryStore(), nil)

	d := testDelegation()
	d.Caveats = nil
	w := postDelegation(t, r, StoreRequest{UserAddress: d.Delegator, Delegation: d})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_failed", resp["error"])
}

func TestStoreDelegation_OwnerMismatch(t *testing.T) {
	r := newTestRouter(NewMemoryStore(), nil)

	d := testDelegation()
	w := postDelegation(t, r, StoreRequest{
		UserAddress: "0x4444444444444444444444444444444444444444",
		Delegation:  d,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreDelegation_BadSignature(t *testing.T) {
	v := NewVerifier(testChainID, testManager)
	r := newTestRouter(NewMemoryStore(), v)

	d := testDelegation() // signature is filler bytes, will not recover to delegator
	w := postDelegation(t, r, StoreRequest{UserAddress: d.Delegator, Delegation: d})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_signature", resp["error"])
}

func TestGetDelegation_NotFound(t *testing.T) {
	r := newTestRouter(NewMemoryStore(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/delegations/0x5555555555555555555555555555555555555555", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExistsAndDelete(t *testing.T) {
	store := NewMemoryStore()
	r := newTestRouter(store, nil)

	d := testDelegation()
	require.NoError(t, store.Put(context.Background(), d.Delegator, &d))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/delegations/"+d.Delegator+"/exists", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["exists"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/v1/delegations/"+d.Delegator, nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	exists, err := store.Exists(context.Background(), d.Delegator)
	require.NoError(t, err)
	assert.False(t, exists)
}
