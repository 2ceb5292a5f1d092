package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"i4.energy/across/espat/esp32"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recvPoll is the pause between socket reads while a reply is collected.
const recvPoll = 10 * time.Millisecond

// Server handles incoming HTTP requests for interacting with the
// configured ESP32
type Server struct {
	Logger logrus.FieldLogger
	Device *esp32.Device
	// RecvWindow bounds how long a TCP exchange waits for the reply
	RecvWindow time.Duration
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /wifi", s.handleWifi)
	mux.HandleFunc("GET /wifi/scan", s.handleScan)
	mux.HandleFunc("POST /wifi/connect", s.handleConnect)
	mux.HandleFunc("POST /tcp", s.handleTCP)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.WithError(err).Warn("Failed to write response")
	}
}

// handleWifi reports the station state
func (s *Server) handleWifi(w http.ResponseWriter, r *http.Request) {
	type WifiResponse struct {
		Status string `json:"status"`
		SSID   string `json:"ssid,omitempty"`
		IP     string `json:"ip,omitempty"`
		MAC    string `json:"mac,omitempty"`
		RSSI   int    `json:"rssi,omitempty"`
	}

	ssid, err := s.Device.SSID()
	if err != nil {
		s.Logger.WithError(err).Error("Failed to query access point")
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	resp := WifiResponse{Status: s.Device.WifiStatus().String(), SSID: ssid}

	if ip, err := s.Device.IPAddress(); err == nil && ip != nil {
		resp.IP = ip.String()
	}
	if mac, err := s.Device.MACAddress(); err == nil && mac != nil {
		resp.MAC = mac.String()
	}
	if ssid != "" {
		if rssi, err := s.Device.RSSI(); err == nil {
			resp.RSSI = rssi
		}
	}
	s.sendJSON(w, resp)
}

// handleScan lists the access points in range, at most ?limit= of them
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, "'limit' must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	aps, err := s.Device.Scan(limit)
	if err != nil {
		s.Logger.WithError(err).Error("Failed to scan")
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	type AccessPoint struct {
		SSID     string `json:"ssid"`
		BSSID    string `json:"bssid"`
		RSSI     int    `json:"rssi"`
		Channel  int    `json:"channel"`
		Security string `json:"security"`
	}
	resp := make([]AccessPoint, 0, len(aps))
	for _, ap := range aps {
		resp = append(resp, AccessPoint{
			SSID:     ap.SSID,
			BSSID:    ap.BSSID.String(),
			RSSI:     ap.RSSI,
			Channel:  ap.Channel,
			Security: ap.Security.String(),
		})
	}
	s.sendJSON(w, resp)
}

// handleConnect joins an access point
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	type ConnectRequest struct {
		SSID       string `json:"ssid"`
		Passphrase string `json:"passphrase"`
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SSID == "" {
		s.sendError(w, "'ssid' field is required", http.StatusBadRequest)
		return
	}

	if err := s.Device.Connect(req.SSID, req.Passphrase); err != nil {
		s.Logger.WithError(err).WithField("ssid", req.SSID).Error("Failed to join access point")
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.Logger.WithField("ssid", req.SSID).Info("Joined access point")
	w.WriteHeader(http.StatusOK)
}

// handleTCP opens a connection, sends the payload and returns what the
// peer answered until it closed or the receive window elapsed
func (s *Server) handleTCP(w http.ResponseWriter, r *http.Request) {
	type TCPRequest struct {
		Host    string `json:"host"`
		Port    int    `json:"port"`
		TLS     bool   `json:"tls"`
		Payload []byte `json:"payload"`
	}
	type TCPResponse struct {
		Reply []byte `json:"reply"`
	}

	var req TCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" || req.Port <= 0 || req.Port > 65535 {
		s.sendError(w, "'host' and a valid 'port' are required", http.StatusBadRequest)
		return
	}

	proto := esp32.TCP
	if req.TLS {
		proto = esp32.SSL
	}
	reply, err := s.exchange(r.Context(), proto, req.Host, req.Port, req.Payload)
	if errors.Is(err, esp32.ErrNoFreeSocket) {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		s.Logger.WithError(err).WithField("peer", net.JoinHostPort(req.Host, strconv.Itoa(req.Port))).
			Error("TCP exchange failed")
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.sendJSON(w, TCPResponse{Reply: reply})
}

func (s *Server) exchange(ctx context.Context, proto esp32.Protocol, host string, port int, payload []byte) ([]byte, error) {
	id, err := s.Device.FreeID()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Device.CloseSocket(id, true); err != nil {
			s.Logger.WithError(err).WithField("socket", id).Warn("Failed to close socket")
		}
	}()

	if err := s.Device.Open(proto, id, host, port, 0); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := s.Device.Send(id, payload); err != nil {
			return nil, err
		}
	}

	var reply []byte
	buf := make([]byte, 1024)
	deadline := time.Now().Add(s.RecvWindow)
	for time.Now().Before(deadline) {
		n, err := s.Device.Recv(id, buf, recvPoll)
		reply = append(reply, buf[:n]...)
		switch {
		case errors.Is(err, esp32.ErrSocketClosed):
			return reply, nil
		case errors.Is(err, esp32.ErrWouldBlock):
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(recvPoll):
			}
		case err != nil:
			return nil, err
		}
	}
	return reply, nil
}
