package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gemscout/gemscout/internal/config"
	"github.com/gemscout/gemscout/internal/domain"
)

type stubStore struct {
	searches map[string]*domain.SearchDefinition
	findings []domain.Finding
	scans    []domain.ManualScan
}

func newStubStore() *stubStore {
	return &stubStore{searches: make(map[string]*domain.SearchDefinition)}
}

func (s *stubStore) ListSearches(_ context.Context, activeOnly bool) ([]domain.SearchDefinition, error) {
	var defs []domain.SearchDefinition
	for _, def := range s.searches {
		if activeOnly && !def.Active {
			continue
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

func (s *stubStore) GetSearch(_ context.Context, id string) (*domain.SearchDefinition, error) {
	def, ok := s.searches[id]
	if !ok {
		return nil, domain.ErrSearchNotFound
	}
	copied := *def
	return &copied, nil
}

func (s *stubStore) CreateSearch(_ context.Context, def *domain.SearchDefinition) error {
	if def.ID == "" {
		def.ID = "search-1"
	}
	def.CreatedAt = time.Now()
	s.searches[def.ID] = def
	return nil
}

func (s *stubStore) UpdateSearch(_ context.Context, def *domain.SearchDefinition) error {
	s.searches[def.ID] = def
	return nil
}

func (s *stubStore) DeleteSearch(_ context.Context, id string) (bool, error) {
	_, ok := s.searches[id]
	delete(s.searches, id)
	return ok, nil
}

func (s *stubStore) UpdateLastScanned(_ context.Context, id string, t time.Time) error {
	if def, ok := s.searches[id]; ok {
		def.LastScannedAt = &t
	}
	return nil
}

func (s *stubStore) FindMarker(context.Context, string) (*domain.AnalyzedListing, error) {
	return nil, nil
}
func (s *stubStore) CreateMarker(context.Context, *domain.AnalyzedListing) error { return nil }

func (s *stubStore) ListFindings(_ context.Context, now time.Time) ([]domain.Finding, error) {
	return s.findings, nil
}
func (s *stubStore) CreateFinding(_ context.Context, f *domain.Finding) error {
	s.findings = append(s.findings, *f)
	return nil
}
func (s *stubStore) SetNotified(context.Context, string) error { return nil }
func (s *stubStore) DeleteFinding(_ context.Context, id string) (bool, error) {
	for i, f := range s.findings {
		if f.ID == id {
			s.findings = append(s.findings[:i], s.findings[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
func (s *stubStore) DeleteExpired(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *stubStore) ListManualScans(context.Context) ([]domain.ManualScan, error) {
	return s.scans, nil
}
func (s *stubStore) CreateManualScan(_ context.Context, scan *domain.ManualScan) error {
	scan.ID = "scan-1"
	s.scans = append(s.scans, *scan)
	return nil
}
func (s *stubStore) DeleteManualScan(context.Context, string) (bool, error) { return false, nil }

type stubSource struct {
	listing *domain.Listing
	err     error
}

func (s *stubSource) FetchSearchResults(context.Context, string) ([]domain.Listing, error) {
	return nil, nil
}
func (s *stubSource) FetchListing(context.Context, string) (*domain.Listing, error) {
	return s.listing, s.err
}

type stubClassifier struct {
	verdict domain.Classification
	err     error
}

func (s *stubClassifier) Classify(context.Context, []string, string) (domain.Classification, error) {
	return s.verdict, s.err
}

type stubAlerter struct{}

func (stubAlerter) Send(context.Context, domain.Alert) bool { return false }

func newTestServer(t *testing.T, store domain.Store, source domain.ListingSource, classifier domain.Classifier) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scans, err := domain.NewScanService(store, source, classifier, stubAlerter{}, logger)
	if err != nil {
		t.Fatalf("NewScanService: %v", err)
	}
	cfg := &config.Config{Port: 5000}
	return NewServer(cfg, store, scans, nil, logger)
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})
	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateAndListSearches(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})

	rec := doRequest(t, srv, http.MethodPost, "/api/searches",
		`{"search_url": "https://www.vinted.com/catalog?search_text=silver", "label": "silver",
		  "scan_interval_hours": 3, "confidence_threshold": 80}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}

	var created searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/searches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var defs []searchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(defs) != 1 || defs[0].Label != "silver" {
		t.Fatalf("defs = %+v", defs)
	}
}

func TestCreateSearchValidation(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not json"},
		{name: "missing url", body: `{"label": "x", "scan_interval_hours": 1}`},
		{name: "missing label", body: `{"search_url": "https://x", "scan_interval_hours": 1}`},
		{name: "zero interval", body: `{"search_url": "https://x", "label": "x", "scan_interval_hours": 0}`},
		{name: "threshold out of range", body: `{"search_url": "https://x", "label": "x", "scan_interval_hours": 1, "confidence_threshold": 120}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/searches", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestUpdateSearchNotFound(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})
	rec := doRequest(t, srv, http.MethodPut, "/api/searches/missing",
		`{"search_url": "https://x", "label": "x", "scan_interval_hours": 1}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteSearch(t *testing.T) {
	store := newStubStore()
	store.searches["s1"] = &domain.SearchDefinition{ID: "s1", Label: "x"}
	srv := newTestServer(t, store, &stubSource{}, &stubClassifier{})

	rec := doRequest(t, srv, http.MethodDelete, "/api/searches/s1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = doRequest(t, srv, http.MethodDelete, "/api/searches/s1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestTriggerSearchNotFound(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})
	rec := doRequest(t, srv, http.MethodPost, "/api/searches/missing/trigger", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerSearchAccepted(t *testing.T) {
	store := newStubStore()
	store.searches["s1"] = &domain.SearchDefinition{ID: "s1", Label: "x", Active: true}
	srv := newTestServer(t, store, &stubSource{}, &stubClassifier{})

	rec := doRequest(t, srv, http.MethodPost, "/api/searches/s1/trigger", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestListFindingsIncludesAdvice(t *testing.T) {
	store := newStubStore()
	store.findings = []domain.Finding{{
		ID:          "f1",
		ListingID:   "101",
		Confidence:  90,
		PriceAmount: 10.00,
		Materials:   []string{"925 silver"},
	}}
	srv := newTestServer(t, store, &stubSource{}, &stubClassifier{})

	rec := doRequest(t, srv, http.MethodGet, "/api/findings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var findings []findingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &findings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(findings) != 1 || findings[0].Advice != string(domain.AdviceBuy) {
		t.Fatalf("findings = %+v", findings)
	}
}

func TestAnalyzeListingErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		source     *stubSource
		classifier *stubClassifier
		body       string
		wantStatus int
	}{
		{
			name:       "missing url",
			source:     &stubSource{},
			classifier: &stubClassifier{},
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid listing url",
			source:     &stubSource{err: domain.ErrInvalidListingURL},
			classifier: &stubClassifier{},
			body:       `{"url": "https://www.vinted.com/member/5"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unfetchable listing",
			source:     &stubSource{},
			classifier: &stubClassifier{},
			body:       `{"url": "https://www.vinted.com/items/5"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "classifier disabled",
			source:     &stubSource{listing: &domain.Listing{ListingID: "5"}},
			classifier: &stubClassifier{err: domain.ErrClassifierDisabled},
			body:       `{"url": "https://www.vinted.com/items/5"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newStubStore(), tt.source, tt.classifier)
			rec := doRequest(t, srv, http.MethodPost, "/api/analyze-listing", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestAnalyzeListingSuccess(t *testing.T) {
	source := &stubSource{listing: &domain.Listing{
		ListingID:   "5",
		Title:       "Ring",
		Price:       "10.00 EUR",
		PriceAmount: 10.00,
		ImageURLs:   []string{"https://images.vinted.net/a.jpg"},
		URL:         "https://www.vinted.com/items/5",
	}}
	classifier := &stubClassifier{verdict: domain.Classification{
		Confidence: 85, Valuable: true, Materials: []string{"585 gold"},
	}}
	srv := newTestServer(t, newStubStore(), source, classifier)

	rec := doRequest(t, srv, http.MethodPost, "/api/analyze-listing",
		`{"url": "https://www.vinted.com/items/5"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var scan manualScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if scan.Confidence != 85 || scan.Advice != string(domain.AdviceBuy) {
		t.Fatalf("scan = %+v", scan)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubSource{}, &stubClassifier{})
	rec := doRequest(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
