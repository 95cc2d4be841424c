package prediction

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

const samplePayload = `{
	"success": true,
	"prediction": {
		"matchup": "Kansas City Chiefs (Home) vs Baltimore Ravens (Away)",
		"date": "2024-09-05",
		"statistical_analysis": {
			"advantages": {
				"Kansas City Chiefs": ["Better red zone efficiency", "Home field"],
				"Baltimore Ravens": ["Stronger rushing attack"]
			}
		},
		"confidence_scores": {
			"Kansas City Chiefs": 62.5,
			"Baltimore Ravens": 37.5
		},
		"betting_recommendations": [
			{"type": "spread", "bet": "KC -3.5", "odds": -110, "confidence": 58, "explanation": "Line has not caught up"}
		]
	}
}`

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict/401" {
			t.Errorf("Expected path /predict/401, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	pred, err := client.Get(context.Background(), 401)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if pred.Matchup != "Kansas City Chiefs (Home) vs Baltimore Ravens (Away)" {
		t.Errorf("Wrong matchup: %s", pred.Matchup)
	}
	if len(pred.BettingRecommendations) != 1 {
		t.Fatalf("Expected 1 recommendation, got %d", len(pred.BettingRecommendations))
	}
	if rec := pred.BettingRecommendations[0]; rec.Type != "spread" || !rec.Confidence.Equal(decimal.NewFromInt(58)) {
		t.Errorf("Wrong recommendation: %+v", rec)
	}

	score, ok := pred.ConfidenceFor("kansas city chiefs")
	if !ok {
		t.Fatal("Expected confidence for Chiefs by normalized name")
	}
	if !score.Equal(decimal.RequireFromString("62.5")) {
		t.Errorf("Wrong confidence: %s", score)
	}

	adv := pred.AdvantagesFor("BALTIMORE RAVENS")
	if len(adv) != 1 || adv[0] != "Stronger rushing attack" {
		t.Errorf("Wrong advantages: %v", adv)
	}
}

func TestGetSuccessFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": false, "error": "no data for this game"}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), 7)
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected *UnavailableError, got %T", err)
	}
	if unavail.EventID != 7 {
		t.Errorf("Wrong event id: %d", unavail.EventID)
	}
	if unavail.Message != "no data for this game" {
		t.Errorf("Wrong message: %s", unavail.Message)
	}
}

func TestGetMissingPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), 7)
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected *UnavailableError, got %v", err)
	}
}

func TestGetServerErrorWithEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "error": "event not found"}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), 999)
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected *UnavailableError, got %v", err)
	}
	if unavail.Message != "event not found" {
		t.Errorf("Expected server message to win over status code, got %s", unavail.Message)
	}
}

func TestGetServerErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	_, err := client.Get(context.Background(), 999)
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected *UnavailableError, got %v", err)
	}
	if unavail.Message != "status 502" {
		t.Errorf("Wrong message: %s", unavail.Message)
	}
}
