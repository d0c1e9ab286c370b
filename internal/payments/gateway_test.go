package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

func TestOrdersClientCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_key" || pass != "rzp_secret" {
			t.Fatalf("unexpected basic auth %q %q", user, pass)
		}
		var body createOrderBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Amount != 52500 || body.Currency != "INR" {
			t.Fatalf("unexpected body %+v", body)
		}
		if body.Notes[NoteBookingID] != "b-1" {
			t.Fatalf("expected booking note, got %v", body.Notes)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_1","amount":52500,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()

	client := NewOrdersClient("rzp_key", "rzp_secret", time.Second, logging.Discard()).WithBaseURL(srv.URL)
	order, err := client.CreateOrder(context.Background(), OrderRequest{
		AmountMinor: 52500,
		Currency:    "INR",
		Notes:       map[string]string{NoteBookingID: "b-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ID != "order_1" {
		t.Fatalf("expected order_1, got %s", order.ID)
	}
}

func TestOrdersClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"description":"bad amount"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewOrdersClient("k", "s", time.Second, logging.Discard()).WithBaseURL(srv.URL)
	_, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1, Currency: "INR"})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("expected ErrGateway, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad amount") {
		t.Fatalf("expected gateway body in error, got %v", err)
	}
}

func TestOrdersClientTimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"id":"order_late"}`))
	}))
	defer srv.Close()

	client := NewOrdersClient("k", "s", 20*time.Millisecond, logging.Discard()).WithBaseURL(srv.URL)
	if _, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 1, Currency: "INR"}); !errors.Is(err, ErrGateway) {
		t.Fatalf("expected timeout to surface as ErrGateway, got %v", err)
	}
}

func TestOrdersClientDryRun(t *testing.T) {
	client := NewOrdersClient("", "", 0, logging.Discard()).WithDryRun(true)
	order, err := client.CreateOrder(context.Background(), OrderRequest{AmountMinor: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(order.ID, "order_dryrun_") {
		t.Fatalf("unexpected dry run id %s", order.ID)
	}
}
