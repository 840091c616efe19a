package client

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/require"
)

// testACMEServer is a minimal in-process ACME server implementing the
// endpoints the client exercises: directory, newNonce, newAccount, newOrder,
// authorizations, challenges, finalize and certificate download. It issues
// a fresh nonce on every signed-request response and records every violation
// of the nonce discipline (reuse or a nonce other than the last one issued).
type testACMEServer struct {
	t      *testing.T
	server *httptest.Server

	mu sync.Mutex

	nonceCounter    int
	lastNonce       string
	usedNonces      map[string]bool
	nonceViolations []string

	domains     []string
	orderStatus string
	signaled    map[int]bool
	// countdown of order fetches between "all challenges signaled" and the
	// order reporting ready. Zero means ready immediately.
	readyAfterPolls int
	// countdown of order fetches between finalization and the certificate
	// URL appearing. Zero means issued immediately.
	certAfterPolls int
	finalized      bool
	// orders never leave pending when true.
	stayPending bool
	// the order reports invalid on its next fetch when true.
	goInvalid bool
	// finalize rejects the CSR with a 400 problem when true.
	rejectCSR bool
	// certificate download responds 404 when true.
	failCertDownload bool

	chainPEM []byte

	// optional hook run before normal dispatch; returning true means the
	// hook already wrote the response.
	intercept func(w http.ResponseWriter, r *http.Request) bool

	requestCounts map[string]int
}

func newTestACMEServer(t *testing.T, domains ...string) *testACMEServer {
	if len(domains) == 0 {
		domains = []string{"example.com"}
	}
	s := &testACMEServer{
		t:             t,
		usedNonces:    map[string]bool{},
		domains:       domains,
		orderStatus:   "pending",
		signaled:      map[int]bool{},
		chainPEM:      makeCertChainPEM(t, domains),
		requestCounts: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/directory", s.handleDirectory)
	mux.HandleFunc("/new-nonce", s.handleNewNonce)
	mux.HandleFunc("/new-account", s.handleNewAccount)
	mux.HandleFunc("/new-order", s.handleNewOrder)
	mux.HandleFunc("/order/1", s.handleOrder)
	mux.HandleFunc("/order/1/finalize", s.handleFinalize)
	mux.HandleFunc("/authz/", s.handleAuthz)
	mux.HandleFunc("/chall/", s.handleChall)
	mux.HandleFunc("/cert/1", s.handleCert)

	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requestCounts[r.URL.Path]++
		hook := s.intercept
		s.mu.Unlock()
		if hook != nil && hook(w, r) {
			return
		}
		mux.ServeHTTP(w, r)
	})

	s.server = httptest.NewServer(outer)
	t.Cleanup(s.server.Close)
	return s
}

func (s *testACMEServer) url(path string) string {
	return s.server.URL + path
}

func (s *testACMEServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCounts[path]
}

// issueNonce mints a fresh nonce and sets it on the response.
func (s *testACMEServer) issueNonce(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonceCounter++
	s.lastNonce = fmt.Sprintf("nonce-%04d", s.nonceCounter)
	w.Header().Set("Replay-Nonce", s.lastNonce)
}

// checkJWS parses the flattened JWS body, records nonce violations and
// returns the decoded payload.
func (s *testACMEServer) checkJWS(r *http.Request) []byte {
	var body struct {
		Protected string `json:"protected"`
		Payload   string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.violation("request body was not a JWS: " + err.Error())
		return nil
	}

	protectedJSON, err := base64.RawURLEncoding.DecodeString(body.Protected)
	if err != nil {
		s.violation("protected header was not base64url")
		return nil
	}
	var protected struct {
		Nonce string `json:"nonce"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(protectedJSON, &protected); err != nil {
		s.violation("protected header was not JSON")
		return nil
	}

	s.mu.Lock()
	switch {
	case protected.Nonce == "":
		s.nonceViolations = append(s.nonceViolations, "request carried no nonce")
	case s.usedNonces[protected.Nonce]:
		s.nonceViolations = append(s.nonceViolations,
			fmt.Sprintf("nonce %q was reused", protected.Nonce))
	case protected.Nonce != s.lastNonce:
		s.nonceViolations = append(s.nonceViolations,
			fmt.Sprintf("request used %q, last issued was %q", protected.Nonce, s.lastNonce))
	}
	s.usedNonces[protected.Nonce] = true
	s.mu.Unlock()

	payload, err := base64.RawURLEncoding.DecodeString(body.Payload)
	if err != nil {
		s.violation("payload was not base64url")
		return nil
	}
	return payload
}

func (s *testACMEServer) violation(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonceViolations = append(s.nonceViolations, msg)
}

func (s *testACMEServer) violations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nonceViolations...)
}

func (s *testACMEServer) handleDirectory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"newNonce":   s.url("/new-nonce"),
		"newAccount": s.url("/new-account"),
		"newOrder":   s.url("/new-order"),
	})
}

func (s *testACMEServer) handleNewNonce(w http.ResponseWriter, _ *http.Request) {
	s.issueNonce(w)
	w.WriteHeader(http.StatusOK)
}

func (s *testACMEServer) handleNewAccount(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)
	w.Header().Set("Location", s.url("/acct/1"))
	writeJSON(w, http.StatusCreated, map[string]any{"status": "valid"})
}

func (s *testACMEServer) handleNewOrder(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)
	w.Header().Set("Location", s.url("/order/1"))
	writeJSON(w, http.StatusCreated, s.orderJSON())
}

func (s *testACMEServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)
	s.advanceOrder()
	writeJSON(w, http.StatusOK, s.orderJSON())
}

func (s *testACMEServer) handleAuthz(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)

	var idx int
	fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/authz/"), "%d", &idx)
	domain := strings.TrimPrefix(s.domains[idx], "*.")

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "pending",
		"identifier": map[string]string{"type": "dns", "value": domain},
		"wildcard":   strings.HasPrefix(s.domains[idx], "*."),
		"challenges": []map[string]string{
			{"type": "http-01", "url": s.url(fmt.Sprintf("/chall/http-%d", idx)), "token": fmt.Sprintf("http-token-%d", idx), "status": "pending"},
			{"type": "dns-01", "url": s.url(fmt.Sprintf("/chall/%d", idx)), "token": fmt.Sprintf("token-%d", idx), "status": "pending"},
		},
	})
}

func (s *testACMEServer) handleChall(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)

	var idx int
	fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/chall/"), "%d", &idx)

	s.mu.Lock()
	s.signaled[idx] = true
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"type":   "dns-01",
		"url":    s.url(r.URL.Path),
		"token":  fmt.Sprintf("token-%d", idx),
		"status": "processing",
	})
}

func (s *testACMEServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)

	s.mu.Lock()
	reject := s.rejectCSR
	status := s.orderStatus
	if !reject && status == "ready" {
		s.finalized = true
		s.orderStatus = "processing"
	}
	s.mu.Unlock()

	if reject {
		writeProblem(w, http.StatusBadRequest, "urn:ietf:params:acme:error:badCSR", "CSR names do not match order")
		return
	}
	if status != "ready" {
		writeProblem(w, http.StatusForbidden, "urn:ietf:params:acme:error:orderNotReady", "order is not ready")
		return
	}
	writeJSON(w, http.StatusOK, s.orderJSON())
}

func (s *testACMEServer) handleCert(w http.ResponseWriter, r *http.Request) {
	s.checkJWS(r)
	s.issueNonce(w)

	s.mu.Lock()
	fail := s.failCertDownload
	s.mu.Unlock()
	if fail {
		writeProblem(w, http.StatusNotFound, "urn:ietf:params:acme:error:malformed", "no such certificate")
		return
	}

	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.chainPEM)
}

// advanceOrder moves the simulated order state machine forward by one order
// fetch.
func (s *testACMEServer) advanceOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.goInvalid {
		s.orderStatus = "invalid"
		return
	}
	if s.stayPending {
		return
	}

	switch s.orderStatus {
	case "pending":
		if len(s.signaled) == len(s.domains) {
			if s.readyAfterPolls > 0 {
				s.readyAfterPolls--
				return
			}
			s.orderStatus = "ready"
		}
	case "processing":
		if s.certAfterPolls > 0 {
			s.certAfterPolls--
			return
		}
		s.orderStatus = "valid"
	}
}

func (s *testACMEServer) orderJSON() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	identifiers := make([]map[string]string, 0, len(s.domains))
	authzURLs := make([]string, 0, len(s.domains))
	for i, d := range s.domains {
		identifiers = append(identifiers, map[string]string{"type": "dns", "value": d})
		authzURLs = append(authzURLs, s.url(fmt.Sprintf("/authz/%d", i)))
	}

	order := map[string]any{
		"status":         s.orderStatus,
		"identifiers":    identifiers,
		"authorizations": authzURLs,
		"finalize":       s.url("/order/1/finalize"),
	}
	if s.orderStatus == "valid" {
		order["certificate"] = s.url("/cert/1")
	}
	if s.orderStatus == "invalid" {
		order["error"] = map[string]any{
			"type":   "urn:ietf:params:acme:error:caa",
			"detail": "CAA record forbids issuance",
		}
	}
	return order
}

func writeJSON(w http.ResponseWriter, status int, ob any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ob)
}

func writeProblem(w http.ResponseWriter, status int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"detail": detail,
		"status": status,
	})
}

// makeCertChainPEM builds a two certificate PEM chain (leaf plus issuer) for
// the given domains.
func makeCertChainPEM(t *testing.T, domains []string) []byte {
	t.Helper()

	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, strings.TrimPrefix(d, "*."))
	}

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test issuing CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	issuerDER, err := x509.CreateCertificate(rand.Reader, issuerTmpl, issuerTmpl, issuerKey.Public(), issuerKey)
	require.NoError(t, err)
	issuerCert, err := x509.ParseCertificate(issuerDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, issuerCert, leafKey.Public(), issuerKey)
	require.NoError(t, err)

	var chain []byte
	for _, der := range [][]byte{leafDER, issuerDER} {
		chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return chain
}

// newTestClient builds a Client against the test server with a fake clock and
// millisecond backoff so retries and polling never block the test.
func newTestClient(t *testing.T, s *testACMEServer) (*Client, clock.FakeClock) {
	t.Helper()

	fc := clock.NewFake()
	c, err := New(Config{
		DirectoryURL: s.url("/directory"),
		ContactEmail: "ops@example.com",
		Clock:        fc,
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
		},
		Polling: PollingConfig{
			ReadyInterval: 10 * time.Second,
			CertInterval:  15 * time.Second,
			Timeout:       2 * time.Minute,
		},
	})
	require.NoError(t, err)
	return c, fc
}
