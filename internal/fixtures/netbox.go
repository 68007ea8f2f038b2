package fixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

const (
	NetboxToken = "0123456789abcdef"

	netboxAPIPrefix = "/api/dcim/"
)

// NetboxRequest is a request received by the fake NetBox server.
type NetboxRequest struct {
	Method     string
	Collection string
	ID         int
	Query      map[string]string
	Body       map[string]interface{}
}

// NetboxFailure makes the fake NetBox server respond with an error.
type NetboxFailure struct {
	Method     string
	Collection string
	// Name limits the failure to requests for the named object, empty matches any.
	Name   string
	Status int
	Body   string
	// Times is the number of requests to fail, zero fails every matching request.
	Times int

	served int
}

// NetboxServer is an in memory fake of the NetBox DCIM API.
type NetboxServer struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	objects  map[string][]map[string]interface{}
	requests []NetboxRequest
	failures []*NetboxFailure
}

// NewNetboxServer returns a started fake NetBox server, callers are to Close() it.
func NewNetboxServer() *NetboxServer {
	s := &NetboxServer{
		nextID:  100,
		objects: map[string][]map[string]interface{}{},
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

// Seed adds an object to the collection and returns its ID.
func (s *NetboxServer) Seed(collection string, obj map[string]interface{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(collection, obj)
}

// FailOn registers a failure for matching requests.
func (s *NetboxServer) FailOn(f NetboxFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, &f)
}

// Requests returns the requests received matching the method and collection, empty values match any.
func (s *NetboxServer) Requests(method, collection string) []NetboxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := []NetboxRequest{}

	for _, r := range s.requests {
		if method != "" && r.Method != method {
			continue
		}

		if collection != "" && r.Collection != collection {
			continue
		}

		found = append(found, r)
	}

	return found
}

// Objects returns the objects stored in the collection.
func (s *NetboxServer) Objects(collection string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]map[string]interface{}{}, s.objects[collection]...)
}

// insert stores the object, a seeded object with an int "id" keeps that ID.
func (s *NetboxServer) insert(collection string, obj map[string]interface{}) int {
	stored := map[string]interface{}{}
	for k, v := range obj {
		stored[k] = v
	}

	id, ok := obj["id"].(int)
	if !ok || id <= 0 {
		s.nextID++
		id = s.nextID
	}

	stored["id"] = id
	s.objects[collection] = append(s.objects[collection], stored)

	return id
}

func (s *NetboxServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Token "+NetboxToken {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid token"})
		return
	}

	if !strings.HasPrefix(r.URL.Path, netboxAPIPrefix) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, netboxAPIPrefix), "/"), "/")

	req := NetboxRequest{
		Method:     r.Method,
		Collection: parts[0],
		Query:      map[string]string{},
	}

	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}

	if len(parts) > 1 {
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}

		req.ID = id
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPatch) {
		if err := json.NewDecoder(r.Body).Decode(&req.Body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "JSON parse error"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if f := s.failure(&req); f != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.Status)
		_, _ = w.Write([]byte(f.Body))

		return
	}

	switch {
	case r.Method == http.MethodGet && req.ID == 0:
		s.list(w, &req)
	case r.Method == http.MethodPost && req.ID == 0:
		s.create(w, &req)
	case r.Method == http.MethodPatch && req.ID != 0:
		s.update(w, &req)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method not allowed."})
	}
}

func (s *NetboxServer) list(w http.ResponseWriter, req *NetboxRequest) {
	results := []map[string]interface{}{}

	for _, obj := range s.objects[req.Collection] {
		if matchesQuery(obj, req.Query) {
			results = append(results, obj)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(results),
		"next":     nil,
		"previous": nil,
		"results":  results,
	})
}

func (s *NetboxServer) create(w http.ResponseWriter, req *NetboxRequest) {
	field := lookupField(req.Collection)

	if name, ok := req.Body[field].(string); ok {
		for _, obj := range s.objects[req.Collection] {
			if obj[field] == name {
				writeJSON(w, http.StatusBadRequest, map[string][]string{
					field: {fmt.Sprintf("%s with this %s already exists.", req.Collection, field)},
				})

				return
			}
		}
	}

	s.insert(req.Collection, req.Body)
	objs := s.objects[req.Collection]

	writeJSON(w, http.StatusCreated, objs[len(objs)-1])
}

func (s *NetboxServer) update(w http.ResponseWriter, req *NetboxRequest) {
	for _, obj := range s.objects[req.Collection] {
		if obj["id"] != req.ID {
			continue
		}

		for k, v := range req.Body {
			obj[k] = v
		}

		writeJSON(w, http.StatusOK, obj)

		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

// failure returns the registered failure matching the request, nil if none.
func (s *NetboxServer) failure(req *NetboxRequest) *NetboxFailure {
	for _, f := range s.failures {
		if f.Times > 0 && f.served >= f.Times {
			continue
		}

		if f.Method != "" && f.Method != req.Method {
			continue
		}

		if f.Collection != "" && f.Collection != req.Collection {
			continue
		}

		if f.Name != "" && f.Name != s.requestName(req) {
			continue
		}

		f.served++

		return f
	}

	return nil
}

// requestName returns the object name a request refers to.
func (s *NetboxServer) requestName(req *NetboxRequest) string {
	field := lookupField(req.Collection)

	if name, ok := req.Query[field]; ok {
		return name
	}

	if name, ok := req.Body[field].(string); ok {
		return name
	}

	for _, obj := range s.objects[req.Collection] {
		if obj["id"] == req.ID {
			name, _ := obj[field].(string)
			return name
		}
	}

	return ""
}

func matchesQuery(obj map[string]interface{}, query map[string]string) bool {
	for k, v := range query {
		switch k {
		case "limit", "offset", "brief":
			continue
		}

		if fmt.Sprint(obj[k]) != v {
			return false
		}
	}

	return true
}

func lookupField(collection string) string {
	if collection == "device-types" {
		return "model"
	}

	return "name"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck // best effort write in a test fixture
	json.NewEncoder(w).Encode(v)
}
