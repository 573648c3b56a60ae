package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/oselz/escrowd/internal/identity"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, _, _ := newTestService(t)
	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(identity.Middleware())
	NewHandler(svc).RegisterRoutes(v1)
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, caller int64, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != 0 {
		req.Header.Set(identity.Header, strconv.FormatInt(caller, 10))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOpenTransactionEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/escrow/transactions", buyerID, gin.H{
		"sellerId":          sellerID,
		"amount":            "10.00",
		"memo":              "widget",
		"releaseConditions": "ship in 3 days",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Transaction Transaction `json:"transaction"`
		Payment     struct {
			Identifier string `json:"identifier"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Transaction.Status != StatusLocked {
		t.Errorf("status = %s, want locked", resp.Transaction.Status)
	}
	if resp.Payment.Identifier == "" || resp.Payment.Identifier != resp.Transaction.PaymentIdentifier {
		t.Errorf("payment identifier mismatch: %q vs %q", resp.Payment.Identifier, resp.Transaction.PaymentIdentifier)
	}
}

func TestOpenTransaction_Validation(t *testing.T) {
	router, _ := newTestRouter(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing amount", gin.H{"sellerId": sellerID}},
		{"negative amount", gin.H{"sellerId": sellerID, "amount": "-5.00"}},
		{"too many decimals", gin.H{"sellerId": sellerID, "amount": "1.1234567"}},
		{"zero seller", gin.H{"sellerId": 0, "amount": "5.00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/escrow/transactions", buyerID, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestEndpoints_RequireIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/escrow/transactions", 0, gin.H{
		"sellerId": sellerID, "amount": "10.00",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func openLocked(t *testing.T, svc *Service) *Transaction {
	t.Helper()
	tx, _, err := svc.Open(context.Background(), CreateRequest{
		SellerID: sellerID, BuyerID: buyerID, Amount: amt(t, "10.00"),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return tx
}

func TestReleaseEndpoint_SellerGated(t *testing.T) {
	router, svc := newTestRouter(t)
	tx := openLocked(t, svc)
	path := fmt.Sprintf("/v1/escrow/transactions/%d/release", tx.ID)

	if w := doJSON(t, router, http.MethodPost, path, buyerID, nil); w.Code != http.StatusForbidden {
		t.Errorf("buyer release status = %d, want 403", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, path, sellerID, nil); w.Code != http.StatusOK {
		t.Errorf("seller release status = %d, body = %s", w.Code, w.Body.String())
	}
	// Repeat release hits a terminal state.
	if w := doJSON(t, router, http.MethodPost, path, sellerID, nil); w.Code != http.StatusConflict {
		t.Errorf("repeat release status = %d, want 409", w.Code)
	}
}

func TestDisputeEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	tx := openLocked(t, svc)
	path := fmt.Sprintf("/v1/escrow/transactions/%d/dispute", tx.ID)

	if w := doJSON(t, router, http.MethodPost, path, buyerID, gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing reason status = %d, want 400", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, path, otherID, gin.H{"reason": "x"}); w.Code != http.StatusForbidden {
		t.Errorf("outsider dispute status = %d, want 403", w.Code)
	}
	if w := doJSON(t, router, http.MethodPost, path, buyerID, gin.H{"reason": "item not received"}); w.Code != http.StatusOK {
		t.Errorf("dispute status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestResolveDisputeEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	tx := openLocked(t, svc)
	resolvePath := fmt.Sprintf("/v1/escrow/transactions/%d/resolve-dispute", tx.ID)

	// Not disputed yet.
	if w := doJSON(t, router, http.MethodPost, resolvePath, otherID, gin.H{"resolution": "refund"}); w.Code != http.StatusConflict {
		t.Errorf("resolve on locked status = %d, want 409", w.Code)
	}

	disputePath := fmt.Sprintf("/v1/escrow/transactions/%d/dispute", tx.ID)
	if w := doJSON(t, router, http.MethodPost, disputePath, buyerID, gin.H{"reason": "broken"}); w.Code != http.StatusOK {
		t.Fatalf("dispute status = %d", w.Code)
	}

	if w := doJSON(t, router, http.MethodPost, resolvePath, otherID, gin.H{"resolution": "split"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad resolution status = %d, want 400", w.Code)
	}

	w := doJSON(t, router, http.MethodPost, resolvePath, otherID, gin.H{
		"resolution": "refund",
		"notes":      "seller admitted fault",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Transaction.Status != StatusRefunded {
		t.Errorf("status = %s, want refunded", resp.Transaction.Status)
	}
}

func TestGetTransactionEndpoint(t *testing.T) {
	router, svc := newTestRouter(t)
	tx := openLocked(t, svc)

	if w := doJSON(t, router, http.MethodGet, fmt.Sprintf("/v1/escrow/transactions/%d", tx.ID), buyerID, nil); w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/v1/escrow/transactions/9999", buyerID, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/v1/escrow/transactions/abc", buyerID, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestListDisputedAndHistoryEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)
	tx := openLocked(t, svc)
	if _, err := svc.Dispute(context.Background(), tx.ID, buyerID, "wrong color"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/v1/escrow/disputed-transactions", otherID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disputed list status = %d", w.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if listResp.Count != 1 {
		t.Errorf("disputed count = %d, want 1", listResp.Count)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/transactions/history", buyerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var histResp struct {
		Transactions []struct {
			SellerName string `json:"sellerName"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &histResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(histResp.Transactions) != 1 || histResp.Transactions[0].SellerName != "bob" {
		t.Errorf("history = %+v", histResp.Transactions)
	}
}
