// Package sheetstest provides an in-process stand-in for the parts of the
// Google Sheets v4 values API that the sheets client uses.
package sheetstest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var rowRangeRegex = regexp.MustCompile(`!A(\d+):F(\d+)$`)

// Server holds one spreadsheet with a single tab.
type Server struct {
	*httptest.Server

	SpreadsheetID string
	Title         string

	mu       sync.Mutex
	grid     [][]string
	calls    map[string]int
	failures map[string]failure
}

type failure struct {
	code int
	msg  string
}

// NewServer starts a server whose tab is titled title and holds grid.
// It is closed when the test ends.
func NewServer(t *testing.T, title string, grid [][]string) *Server {
	t.Helper()
	s := &Server{
		SpreadsheetID: "sheet-test",
		Title:         title,
		grid:          grid,
		calls:         make(map[string]int),
		failures:      make(map[string]failure),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Service returns a Sheets service pointed at the server.
func (s *Server) Service(t *testing.T) *sheets.Service {
	t.Helper()
	srv, err := sheets.NewService(context.Background(), s.ClientOptions()...)
	if err != nil {
		t.Fatalf("sheets.NewService: %v", err)
	}
	return srv
}

// ClientOptions points a Sheets client at the server.
func (s *Server) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(s.URL + "/"),
		option.WithHTTPClient(s.Client()),
	}
}

// Grid returns a copy of the current cells.
func (s *Server) Grid() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.grid))
	for i, row := range s.grid {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// DeleteRow removes the 0-based grid row i, as another editor would.
func (s *Server) DeleteRow(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid = append(s.grid[:i], s.grid[i+1:]...)
}

// Calls reports how many requests of kind ("meta", "get", "append", "update") were served.
func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

// Fail makes every later request of kind answer with code and msg.
func (s *Server) Fail(kind string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = failure{code: code, msg: msg}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	kind := classify(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[kind]++
	if f, ok := s.failures[kind]; ok {
		writeJSON(w, f.code, map[string]any{
			"error": map[string]any{"code": f.code, "message": f.msg},
		})
		return
	}

	switch kind {
	case "meta":
		writeJSON(w, http.StatusOK, map[string]any{
			"spreadsheetId": s.SpreadsheetID,
			"sheets":        []any{map[string]any{"properties": map[string]any{"title": s.Title}}},
		})
	case "get":
		writeJSON(w, http.StatusOK, map[string]any{
			"range":          fmt.Sprintf("'%s'!A1:F%d", s.Title, len(s.grid)),
			"majorDimension": "ROWS",
			"values":         s.grid,
		})
	case "append":
		row, ok := decodeRow(w, r)
		if !ok {
			return
		}
		s.grid = append(s.grid, row)
		n := len(s.grid)
		writeJSON(w, http.StatusOK, map[string]any{
			"spreadsheetId": s.SpreadsheetID,
			"updates": map[string]any{
				"updatedRange": fmt.Sprintf("'%s'!A%d:F%d", s.Title, n, n),
				"updatedRows":  1,
			},
		})
	case "update":
		m := rowRangeRegex.FindStringSubmatch(r.URL.Path)
		if m == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": 400, "message": "bad range"}})
			return
		}
		n, _ := strconv.Atoi(m[1])
		row, ok := decodeRow(w, r)
		if !ok {
			return
		}
		for len(s.grid) < n {
			s.grid = append(s.grid, nil)
		}
		s.grid[n-1] = row
		writeJSON(w, http.StatusOK, map[string]any{"updatedRange": m[0][1:], "updatedRows": 1})
	default:
		http.NotFound(w, r)
	}
}

func classify(r *http.Request) string {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && !strings.Contains(path, "/values/"):
		return "meta"
	case r.Method == http.MethodGet:
		return "get"
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		return "append"
	case r.Method == http.MethodPut:
		return "update"
	}
	return "unknown"
}

func decodeRow(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var body struct {
		Values [][]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Values) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": 400, "message": "expected one row"}})
		return nil, false
	}
	row := make([]string, len(body.Values[0]))
	for i, v := range body.Values[0] {
		if v != nil {
			row[i] = fmt.Sprint(v)
		}
	}
	return row, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
