package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"i4.energy/across/espat/esp32"
)

func newTestServer(t *testing.T) (*Server, *esp32.TestTransport) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tt := esp32.NewTestTransport()
	config, err := esp32.NewConfigBuilder().
		WithDialer(esp32.TestDialer{Transport: tt}).
		WithLogger(logger.WithField("component", "esp32")).
		Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	d, err := esp32.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return &Server{Logger: logger, Device: d, RecvWindow: time.Second}, tt
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServerConnect(t *testing.T) {
	t.Run("Joins the access point", func(t *testing.T) {
		s, tt := newTestServer(t)

		rec := serve(s, http.MethodPost, "/wifi/connect", `{"ssid":"home","passphrase":"secret"}`)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got: %d %s", rec.Code, rec.Body)
		}
		if n := tt.Count(`AT+CWJAP="home","secret"`); n != 1 {
			t.Errorf("expected AT+CWJAP, got: %q", tt.Commands())
		}
	})

	t.Run("Bad requests", func(t *testing.T) {
		s, _ := newTestServer(t)

		for _, body := range []string{`{"ssid":`, `{"passphrase":"secret"}`} {
			if rec := serve(s, http.MethodPost, "/wifi/connect", body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400 for %s, got: %d", body, rec.Code)
			}
		}
	})

	t.Run("Join failure", func(t *testing.T) {
		s, tt := newTestServer(t)
		tt.Reply("AT+CWJAP=", "+CWJAP:1\r\n\r\nFAIL\r\n")

		rec := serve(s, http.MethodPost, "/wifi/connect", `{"ssid":"home","passphrase":"wrong"}`)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected 502, got: %d", rec.Code)
		}
	})

	t.Run("Wrong method", func(t *testing.T) {
		s, _ := newTestServer(t)

		if rec := serve(s, http.MethodGet, "/wifi/connect", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got: %d", rec.Code)
		}
	})
}

func TestServerWifi(t *testing.T) {
	t.Run("Status", func(t *testing.T) {
		s, tt := newTestServer(t)
		tt.Reply("AT+CWJAP?", "No AP\r\n\r\nOK\r\n")
		tt.Reply("AT+CIFSR", `+CIFSR:STAIP,"0.0.0.0"`+"\r\n"+`+CIFSR:STAMAC,"24:0a:c4:00:00:01"`+"\r\n\r\nOK\r\n")

		rec := serve(s, http.MethodGet, "/wifi", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got: %d %s", rec.Code, rec.Body)
		}

		var resp struct {
			Status string `json:"status"`
			SSID   string `json:"ssid"`
			MAC    string `json:"mac"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unexpected error decoding response: %v", err)
		}
		if resp.Status != "disconnected" || resp.SSID != "" || resp.MAC != "24:0a:c4:00:00:01" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("Scan", func(t *testing.T) {
		s, tt := newTestServer(t)
		tt.Reply("AT+CWLAP", `+CWLAP:(3,"home",-45,"aa:bb:cc:dd:ee:ff",6)`+"\r\n"+
			`+CWLAP:(0,"cafe",-80,"11:22:33:44:55:66",1)`+"\r\n\r\nOK\r\n")
		if err := s.Device.Disconnect(); err != nil {
			t.Fatalf("unexpected error from Disconnect(): %v", err)
		}

		rec := serve(s, http.MethodGet, "/wifi/scan?limit=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got: %d %s", rec.Code, rec.Body)
		}

		var resp []struct {
			SSID     string `json:"ssid"`
			Security string `json:"security"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unexpected error decoding response: %v", err)
		}
		if len(resp) != 1 || resp[0].SSID != "home" || resp[0].Security != "wpa2" {
			t.Errorf("unexpected response: %+v", resp)
		}

		if rec := serve(s, http.MethodGet, "/wifi/scan?limit=x", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for a bad limit, got: %d", rec.Code)
		}
	})
}

func TestServerTCP(t *testing.T) {
	t.Run("Exchange until the peer closes", func(t *testing.T) {
		s, tt := newTestServer(t)
		tt.Handle("AT+CIPSEND=", func(string) esp32.TestResponse {
			return esp32.TestResponse{
				Out:      "\r\nOK\r\n>",
				Raw:      4,
				AfterRaw: "\r\nSEND OK\r\n\r\n+IPD,0,4:pong\r\n0,CLOSED\r\n",
			}
		})

		rec := serve(s, http.MethodPost, "/tcp", `{"host":"example.com","port":7,"payload":"cGluZw=="}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got: %d %s", rec.Code, rec.Body)
		}

		var resp struct {
			Reply []byte `json:"reply"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unexpected error decoding response: %v", err)
		}
		if string(resp.Reply) != "pong" {
			t.Errorf("expected pong, got: %q", resp.Reply)
		}
		if payloads := tt.Payloads(); len(payloads) != 1 || string(payloads[0]) != "ping" {
			t.Errorf("unexpected payloads: %q", payloads)
		}
		if n := tt.Count("AT+CIPCLOSE="); n != 0 {
			t.Errorf("expected no AT+CIPCLOSE after the peer closed, got: %d", n)
		}
	})

	t.Run("Bad requests", func(t *testing.T) {
		s, _ := newTestServer(t)

		for _, body := range []string{`{`, `{"port":80}`, `{"host":"example.com","port":70000}`} {
			if rec := serve(s, http.MethodPost, "/tcp", body); rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400 for %s, got: %d", body, rec.Code)
			}
		}
	})
}
