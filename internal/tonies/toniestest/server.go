// Package toniestest runs an in-memory Tonies cloud for tests: token
// endpoint, households, Creative Tonies, upload tokens and an object store
// that accepts presigned POSTs.
package toniestest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Default credentials accepted by a new Server.
const (
	Username = "parent@example.com"
	Password = "correct-horse"
)

// Chapter is a chapter as stored by the fake cloud.
type Chapter struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	File  string `json:"file"`
}

type household struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Access string `json:"access"`
}

type device struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"householdId"`
	Name        string    `json:"name"`
	Chapters    []Chapter `json:"chapters"`
}

// Server is a fake Tonies cloud backed by httptest.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]string
	households  []household
	devices     map[string][]*device // by household id
	issued      map[string]bool      // file ids handed out by /file
	uploaded    map[string][]byte
	lastFields  []string
	tokenStatus int
	uploadFail  int
	patchFail   int
	expiresIn   int

	tokenRequests  atomic.Int32
	apiRequests    atomic.Int32
	uploadRequests atomic.Int32
	patchRequests  atomic.Int32
}

// NewServer starts a fake cloud accepting Username/Password. It is closed
// when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		users:     map[string]string{Username: Password},
		devices:   make(map[string][]*device),
		issued:    make(map[string]bool),
		uploaded:  make(map[string][]byte),
		expiresIn: 3600,
	}

	r := mux.NewRouter()
	r.HandleFunc("/token", s.handleToken).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)

	api := r.PathPrefix("/v2").Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/households", s.handleHouseholds).Methods(http.MethodGet)
	api.HandleFunc("/households/{h}/creativetonies", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/households/{h}/creativetonies/{t}", s.handleDevice).Methods(http.MethodGet)
	api.HandleFunc("/households/{h}/creativetonies/{t}", s.handlePatch).Methods(http.MethodPatch)
	api.HandleFunc("/file", s.handleFile).Methods(http.MethodPost)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)

	return s
}

// BaseURL is the API root to hand to tonies.NewClient.
func (s *Server) BaseURL() string { return s.URL + "/v2" }

// TokenURL is the password-grant endpoint.
func (s *Server) TokenURL() string { return s.URL + "/token" }

// AddUser registers another login.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[username] = password
}

// AddHousehold registers a household.
func (s *Server) AddHousehold(id, name, access string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.households = append(s.households, household{ID: id, Name: name, Access: access})
}

// AddDevice registers a Creative Tonie with optional existing chapters.
func (s *Server) AddDevice(householdID, id, name string, chapters ...Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[householdID] = append(s.devices[householdID], &device{
		ID: id, HouseholdID: householdID, Name: name, Chapters: chapters,
	})
}

// Chapters returns a copy of a device's chapters.
func (s *Server) Chapters(householdID, deviceID string) []Chapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d := s.findDevice(householdID, deviceID); d != nil {
		return append([]Chapter(nil), d.Chapters...)
	}

	return nil
}

// Uploaded returns the bytes stored under fileID.
func (s *Server) Uploaded(fileID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.uploaded[fileID]

	return b, ok
}

// LastUploadFieldOrder lists the multipart part names of the most recent upload.
func (s *Server) LastUploadFieldOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.lastFields...)
}

// FailToken makes the token endpoint answer with status.
func (s *Server) FailToken(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokenStatus = status
}

// FailUploads makes the object store answer with status.
func (s *Server) FailUploads(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploadFail = status
}

// FailPatches makes PATCH requests answer with status.
func (s *Server) FailPatches(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patchFail = status
}

// SetExpiresIn sets the TTL reported by the token endpoint.
func (s *Server) SetExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expiresIn = seconds
}

// TokenRequests counts calls to the token endpoint.
func (s *Server) TokenRequests() int { return int(s.tokenRequests.Load()) }

// APIRequests counts authenticated API calls.
func (s *Server) APIRequests() int { return int(s.apiRequests.Load()) }

// UploadRequests counts presigned POSTs.
func (s *Server) UploadRequests() int { return int(s.uploadRequests.Load()) }

// PatchRequests counts PATCH calls.
func (s *Server) PatchRequests() int { return int(s.patchRequests.Load()) }

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.tokenRequests.Add(1)

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	status := s.tokenStatus
	expected, known := s.users[r.PostForm.Get("username")]
	expiresIn := s.expiresIn
	s.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, map[string]string{"error": "invalid_grant", "error_description": "forced failure"})
		return
	}

	if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("client_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if !known || expected != r.PostForm.Get("password") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid_grant", "error_description": "Invalid user credentials",
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "token-" + r.PostForm.Get("username") + "-" + strconv.Itoa(int(s.tokenRequests.Load())),
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apiRequests.Add(1)

		if len(r.Header.Get("Authorization")) <= len("Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHouseholds(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := append([]household{}, s.households...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	h := mux.Vars(r)["h"]

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasHousehold(h) {
		http.Error(w, "household not found", http.StatusNotFound)
		return
	}

	out := make([]device, 0, len(s.devices[h]))
	for _, d := range s.devices[h] {
		out = append(out, *d)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.findDevice(vars["h"], vars["t"])
	if d == nil {
		http.Error(w, "creative tonie not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.render(d))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.patchRequests.Add(1)

	vars := mux.Vars(r)

	var body struct {
		Name     string    `json:"name"`
		Chapters []Chapter `json:"chapters"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patchFail != 0 {
		http.Error(w, "forced patch failure", s.patchFail)
		return
	}

	d := s.findDevice(vars["h"], vars["t"])
	if d == nil {
		http.Error(w, "creative tonie not found", http.StatusNotFound)
		return
	}

	known := make(map[string]bool, len(d.Chapters))
	for _, ch := range d.Chapters {
		known[ch.File] = true
	}

	chapters := make([]Chapter, 0, len(body.Chapters))
	for i, ch := range body.Chapters {
		if !known[ch.File] {
			if _, ok := s.uploaded[ch.File]; !ok {
				http.Error(w, fmt.Sprintf("chapter %d references unknown file %q", i, ch.File), http.StatusBadRequest)
				return
			}
		}

		chapters = append(chapters, Chapter{ID: "ch-" + ch.File, Title: ch.Title, File: ch.File})
	}

	if body.Name != "" {
		d.Name = body.Name
	}

	d.Chapters = chapters

	writeJSON(w, http.StatusOK, s.render(d))
}

func (s *Server) handleFile(w http.ResponseWriter, _ *http.Request) {
	fileID := uuid.NewString()

	s.mu.Lock()
	s.issued[fileID] = true
	s.mu.Unlock()

	// Raw JSON keeps the field order deterministic.
	body := fmt.Sprintf(`{"fileId":%q,"request":{"url":%q,"fields":{`+
		`"key":%q,"x-amz-algorithm":"AWS4-HMAC-SHA256",`+
		`"x-amz-credential":"AKIAFAKE/20240101/eu-central-1/s3/aws4_request",`+
		`"x-amz-date":"20240101T000000Z","policy":"eyJmYWtlIjp0cnVlfQ==",`+
		`"x-amz-signature":"0123456789abcdef"}}}`,
		fileID, s.URL+"/upload", fileID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.uploadRequests.Add(1)

	s.mu.Lock()
	fail := s.uploadFail
	s.mu.Unlock()

	if fail != 0 {
		http.Error(w, "<Error><Code>AccessDenied</Code></Error>", fail)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var (
		names []string
		key   string
		data  []byte
	)

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		b, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		names = append(names, part.FormName())

		switch part.FormName() {
		case "key":
			key = string(b)
		case "file":
			data = b
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFields = names

	if len(names) == 0 || names[len(names)-1] != "file" {
		http.Error(w, "file must be the last form field", http.StatusBadRequest)
		return
	}

	if !s.issued[key] {
		http.Error(w, "<Error><Code>InvalidPolicy</Code></Error>", http.StatusForbidden)
		return
	}

	delete(s.issued, key)
	s.uploaded[key] = data

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hasHousehold(id string) bool {
	for _, h := range s.households {
		if h.ID == id {
			return true
		}
	}

	return false
}

func (s *Server) findDevice(householdID, deviceID string) *device {
	for _, d := range s.devices[householdID] {
		if d.ID == deviceID {
			return d
		}
	}

	return nil
}

// render adds the derived counters a real device response carries.
func (s *Server) render(d *device) map[string]any {
	const maxChapters = 99

	return map[string]any{
		"id":                d.ID,
		"householdId":       d.HouseholdID,
		"name":              d.Name,
		"secondsPresent":    len(d.Chapters) * 60,
		"secondsRemaining":  5400 - len(d.Chapters)*60,
		"chaptersPresent":   len(d.Chapters),
		"chaptersRemaining": maxChapters - len(d.Chapters),
		"transcoding":       false,
		"chapters":          d.Chapters,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
