// Package main runs end-to-end checks of the paid booking flow against a
// running API started with PAYMENT_DRY_RUN=true and VIDEO_DRY_RUN=true.
//
// Scenarios:
//   - checkout, signed capture webhook, confirmed booking with meeting
//   - duplicate webhook delivery applied once
//   - tampered signature rejected
//   - reschedule of a confirmed booking keeps payment linkage
//   - cancel of a confirmed booking
//
// Usage:
//
//	AUTH_JWT_SECRET=... PAYMENT_WEBHOOK_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	maxWait         = 20 * time.Second
	pollInterval    = time.Second
)

var (
	apiBase       string
	webhookSecret string
	ownerToken    string
	ownerID       string
	client        = &http.Client{Timeout: 30 * time.Second}
)

// ---------------------------------------------------------------------------
// Scenario definition
// ---------------------------------------------------------------------------

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...any) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mintToken(secret, subject, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func call(method, path, token string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, nil
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliver(body []byte, signature string) (int, error) {
	req, err := http.NewRequest(http.MethodPost, apiBase+"/webhooks/payments", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func capturePayload(session map[string]any) []byte {
	payload := map[string]any{
		"event": "payment.captured",
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       "pay_e2e_" + uuid.NewString()[:8],
					"order_id": session["orderId"],
					"amount":   session["amount"],
					"currency": session["currency"],
					"method":   "upi",
					"status":   "captured",
					"notes": map[string]string{
						"booking_id": fmt.Sprint(session["bookingId"]),
						"user_id":    ownerID,
					},
				},
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body
}

func slot(daysAhead int, start, end string) map[string]string {
	return map[string]string{
		"bookingDate": time.Now().AddDate(0, 0, daysAhead).Format("2006-01-02"),
		"startTime":   start,
		"endTime":     end,
	}
}

func startCheckout(t *T, consultation string) map[string]any {
	status, session, err := call(http.MethodPost, "/checkout/sessions", ownerToken, map[string]any{
		"vetId":            "vet-e2e",
		"petId":            "pet-e2e",
		"schedule":         slot(2, "10:00", "10:30"),
		"consultationType": consultation,
		"fee":              500,
	})
	if err != nil {
		t.fatalf("checkout request: %v", err)
		return nil
	}
	t.check("checkout returns 201", status == http.StatusCreated)
	t.check("checkout returns booking id", session["bookingId"] != nil)
	return session
}

func waitForBooking(id string, ok func(map[string]any) bool) map[string]any {
	deadline := time.Now().Add(maxWait)
	var last map[string]any
	for time.Now().Before(deadline) {
		_, b, err := call(http.MethodGet, "/bookings/"+id, ownerToken, nil)
		if err == nil {
			last = b
			if ok(b) {
				return b
			}
		}
		time.Sleep(pollInterval)
	}
	return last
}

func confirmedWithMeeting(b map[string]any) bool {
	return b["status"] == "confirmed" && b["meetingId"] != nil
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func happyPath(t *T) {
	session := startCheckout(t, "video_call")
	if session == nil {
		return
	}
	status, err := deliver(capturePayload(session), "")
	if err == nil {
		t.check("unsigned webhook rejected", status == http.StatusUnauthorized)
	}
	body := capturePayload(session)
	status, err = deliver(body, sign(body))
	if err != nil {
		t.fatalf("deliver webhook: %v", err)
		return
	}
	t.check("signed webhook accepted", status == http.StatusOK)

	b := waitForBooking(fmt.Sprint(session["bookingId"]), confirmedWithMeeting)
	t.check("booking confirmed", b["status"] == "confirmed")
	t.check("booking paid", b["paymentStatus"] == "paid")
	t.check("meeting provisioned", b["meetingId"] != nil)
	t.check("reminder scheduled", b["reminderFireAt"] != nil)
}

func duplicateDelivery(t *T) {
	session := startCheckout(t, "in_person")
	if session == nil {
		return
	}
	body := capturePayload(session)
	for i := 0; i < 3; i++ {
		status, err := deliver(body, sign(body))
		if err != nil {
			t.fatalf("deliver webhook: %v", err)
			return
		}
		t.check(fmt.Sprintf("delivery %d acknowledged", i+1), status == http.StatusOK)
	}
	b := waitForBooking(fmt.Sprint(session["bookingId"]), func(b map[string]any) bool { return b["status"] == "confirmed" })
	t.check("booking confirmed once", b["status"] == "confirmed")
	t.check("in-person booking has no meeting", b["meetingId"] == nil)
}

func tamperedSignature(t *T) {
	session := startCheckout(t, "video_call")
	if session == nil {
		return
	}
	body := capturePayload(session)
	sig := sign(body)
	body[len(body)-2] ^= 0x01
	status, err := deliver(body, sig)
	if err != nil {
		t.fatalf("deliver webhook: %v", err)
		return
	}
	t.check("tampered body rejected", status == http.StatusUnauthorized)

	_, b, _ := call(http.MethodGet, "/bookings/"+fmt.Sprint(session["bookingId"]), ownerToken, nil)
	t.check("booking still pending", b["status"] == "pending")
}

func rescheduleConfirmed(t *T) {
	session := startCheckout(t, "video_call")
	if session == nil {
		return
	}
	body := capturePayload(session)
	if _, err := deliver(body, sign(body)); err != nil {
		t.fatalf("deliver webhook: %v", err)
		return
	}
	id := fmt.Sprint(session["bookingId"])
	waitForBooking(id, confirmedWithMeeting)

	status, b, err := call(http.MethodPost, "/bookings/"+id+"/reschedule", ownerToken, slot(3, "14:00", "14:30"))
	if err != nil {
		t.fatalf("reschedule: %v", err)
		return
	}
	t.check("reschedule returns 200", status == http.StatusOK)
	t.check("status preserved", b["status"] == "confirmed")
	t.check("payment preserved", b["gatewayPaymentId"] != nil)
	t.check("start moved", b["startTime"] == "14:00")
}

func cancelConfirmed(t *T) {
	session := startCheckout(t, "in_person")
	if session == nil {
		return
	}
	body := capturePayload(session)
	if _, err := deliver(body, sign(body)); err != nil {
		t.fatalf("deliver webhook: %v", err)
		return
	}
	id := fmt.Sprint(session["bookingId"])
	waitForBooking(id, func(b map[string]any) bool { return b["status"] == "confirmed" })

	status, b, err := call(http.MethodPost, "/bookings/"+id+"/cancel", ownerToken, nil)
	if err != nil {
		t.fatalf("cancel: %v", err)
		return
	}
	t.check("cancel returns 200", status == http.StatusOK)
	t.check("booking cancelled", b["status"] == "cancelled")

	status, _, _ = call(http.MethodPost, "/bookings/"+id+"/complete", ownerToken, nil)
	t.check("owner cannot complete", status == http.StatusForbidden)
}

var scenarios = []scenario{
	{"happy-path", happyPath},
	{"duplicate-delivery", duplicateDelivery},
	{"tampered-signature", tamperedSignature},
	{"reschedule-confirmed", rescheduleConfirmed},
	{"cancel-confirmed", cancelConfirmed},
}

func main() {
	apiBase = os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8080"
	}
	webhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	jwtSecret := os.Getenv("AUTH_JWT_SECRET")
	if webhookSecret == "" || jwtSecret == "" {
		fmt.Println("Error: AUTH_JWT_SECRET and PAYMENT_WEBHOOK_SECRET must be set")
		os.Exit(1)
	}

	ownerID = "owner-e2e-" + uuid.NewString()[:8]
	token, err := mintToken(jwtSecret, ownerID, "owner")
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}
	ownerToken = token

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	total := &T{}
	for _, sc := range scenarios {
		if filter != "" && sc.Name != filter {
			continue
		}
		fmt.Printf("\n=== %s ===\n", sc.Name)
		t := &T{}
		sc.Fn(t)
		total.passed += t.passed
		total.failed += t.failed
	}

	fmt.Printf("\n%d passed, %d failed\n", total.passed, total.failed)
	if total.failed > 0 {
		os.Exit(1)
	}
}
