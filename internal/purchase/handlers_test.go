package purchase

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(s *Service) *gin.Engine {
	h := NewGinHandlers(s)
	router := gin.New()
	router.POST("/api/purchase", h.CreatePurchaseHandler())
	router.GET("/api/purchases", h.ListPurchasesHandler())
	return router
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/purchase", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreatePurchaseHandler(t *testing.T) {
	router := newTestRouter(newFileService(t))

	rec := post(router, `{"investmentAmount": 100, "goldOunces": 0.05, "priceAtPurchase": 2000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Success  bool   `json:"success"`
		Message  string `json:"message"`
		Purchase struct {
			ID               string  `json:"id"`
			InvestmentAmount float64 `json:"investmentAmount"`
			GoldOunces       float64 `json:"goldOunces"`
			PriceAtPurchase  float64 `json:"priceAtPurchase"`
			Timestamp        string  `json:"timestamp"`
		} `json:"purchase"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Message != MsgPurchaseRecorded {
		t.Errorf("body = %+v", body)
	}
	if body.Purchase.ID == "" || body.Purchase.Timestamp == "" {
		t.Errorf("purchase missing id or timestamp: %+v", body.Purchase)
	}
	if body.Purchase.InvestmentAmount != 100 || body.Purchase.GoldOunces != 0.05 || body.Purchase.PriceAtPurchase != 2000 {
		t.Errorf("purchase amounts = %+v", body.Purchase)
	}
}

func TestCreatePurchaseHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"negative amount", `{"investmentAmount": -5, "goldOunces": 0.01, "priceAtPurchase": 2000}`, MsgNonPositive},
		{"missing field", `{"investmentAmount": 100, "goldOunces": 0.05}`, MsgMissingFields},
		{"malformed json", `{"investmentAmount": `, "Invalid request body"},
		{"string amount", `{"investmentAmount": "100", "goldOunces": 0.05, "priceAtPurchase": 2000}`, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(newFileService(t))
			rec := post(router, tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["success"] != false || body["error"] != tt.wantErr {
				t.Errorf("body = %v, want error %q", body, tt.wantErr)
			}
		})
	}
}

func TestCreatePurchaseHandler_PersistenceFailure(t *testing.T) {
	router := newTestRouter(NewService(&failingLedger{}))

	rec := post(router, `{"investmentAmount": 100, "goldOunces": 0.05, "priceAtPurchase": 2000}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["error"] != MsgPurchaseFailed {
		t.Errorf("body = %v", body)
	}
}

func TestListPurchasesHandler(t *testing.T) {
	router := newTestRouter(newFileService(t))

	get := func() []interface{} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/purchases", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body struct {
			Success   bool          `json:"success"`
			Purchases []interface{} `json:"purchases"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Purchases == nil {
			t.Fatalf("purchases is null, want an array: %s", rec.Body.String())
		}
		return body.Purchases
	}

	if got := get(); len(got) != 0 {
		t.Fatalf("purchases = %v, want empty", got)
	}

	post(router, `{"investmentAmount": 100, "goldOunces": 0.05, "priceAtPurchase": 2000}`)
	post(router, `{"investmentAmount": 50, "goldOunces": 0.025, "priceAtPurchase": 2000}`)

	if got := get(); len(got) != 2 {
		t.Errorf("purchases = %v, want 2 records", got)
	}
}
