// Package backendtest provides an in-memory stand-in for the hosted backend
// that understands the subset of PostgREST and storage calls the client
// issues.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Row is one table row as decoded from JSON.
type Row = map[string]any

// Server is a running fake backend.
type Server struct {
	*httptest.Server
	AnonKey string

	mu      sync.Mutex
	tables  map[string][]Row
	objects map[string][]byte
}

// NewServer starts a fake backend that accepts anonKey.
func NewServer(anonKey string) *Server {
	s := &Server{
		AnonKey: anonKey,
		tables:  make(map[string][]Row),
		objects: make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Seed appends rows to table as given.
func (s *Server) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

// Rows returns a copy of the rows of table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.tables[table]))
	copy(out, s.tables[table])
	return out
}

// Object returns a stored object.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+path]
	return data, ok
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/storage/v1/object/public/") {
		s.servePublic(w, r)
		return
	}
	if r.Header.Get("apikey") != s.AnonKey || r.Header.Get("Authorization") != "Bearer "+s.AnonKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid API key"})
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		s.serveTable(w, r, strings.TrimPrefix(r.URL.Path, "/rest/v1/"))
	case strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		s.serveUpload(w, r, strings.TrimPrefix(r.URL.Path, "/storage/v1/object/"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) serveTable(w http.ResponseWriter, r *http.Request, table string) {
	query := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		rows := make([]Row, 0)
		for _, row := range s.tables[table] {
			if matches(row, query) {
				rows = append(rows, project(row, query.Get("select")))
			}
		}
		sortRows(rows, query.Get("order"))
		if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit >= 0 && limit < len(rows) {
			rows = rows[:limit]
		}
		writeJSON(w, http.StatusOK, rows)

	case http.MethodPost:
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
			return
		}
		var rows []Row
		if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
			if err := json.Unmarshal(raw, &rows); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
				return
			}
		} else {
			var row Row
			if err := json.Unmarshal(raw, &row); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
				return
			}
			rows = []Row{row}
		}
		for _, row := range rows {
			if _, ok := row["id"]; !ok {
				row["id"] = uuid.NewString()
			}
			if _, ok := row["created_at"]; !ok {
				row["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
			}
		}
		s.tables[table] = append(s.tables[table], rows...)
		if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
			writeJSON(w, http.StatusCreated, rows)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		kept := s.tables[table][:0]
		for _, row := range s.tables[table] {
			if !matches(row, query) {
				kept = append(kept, row)
			}
		}
		s.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
	}
}

func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[key]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Duplicate", "message": "The resource already exists"})
		return
	}
	s.objects[key] = data
	writeJSON(w, http.StatusOK, map[string]string{"Key": key})
}

func (s *Server) servePublic(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/public/")
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Object not found"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func matches(row Row, query map[string][]string) bool {
	for column, exprs := range query {
		switch column {
		case "select", "order", "limit":
			continue
		}
		for _, expr := range exprs {
			op, arg, _ := strings.Cut(expr, ".")
			value := text(row[column])
			switch op {
			case "eq":
				if value != arg {
					return false
				}
			case "neq":
				if value == arg {
					return false
				}
			case "gt":
				if compare(value, arg) <= 0 {
					return false
				}
			case "in":
				found := false
				for _, v := range strings.Split(strings.Trim(arg, "()"), ",") {
					if strings.Trim(v, `"`) == value {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			default:
				return false
			}
		}
	}
	return true
}

func project(row Row, columns string) Row {
	out := make(Row, len(row))
	if columns == "" || columns == "*" {
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	for _, c := range strings.Split(columns, ",") {
		c = strings.TrimSpace(c)
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func sortRows(rows []Row, order string) {
	if order == "" {
		return
	}
	keys := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			column, dir, _ := strings.Cut(key, ".")
			c := compare(text(rows[i][column]), text(rows[j][column]))
			if c == 0 {
				continue
			}
			if dir == "desc" {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compare orders timestamps chronologically, numbers numerically and
// anything else as text.
func compare(a, b string) int {
	if ta, err := time.Parse(time.RFC3339Nano, a); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, b); err == nil {
			return ta.Compare(tb)
		}
	}
	if fa, err := strconv.ParseFloat(a, 64); err == nil {
		if fb, err := strconv.ParseFloat(b, 64); err == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(a, b)
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
