// Package qdranttest 提供一个内存版的 Qdrant REST 服务，供测试使用。
// 只实现 storage.Qdrant 用到的接口子集。
package qdranttest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

type point struct {
	id      string
	vector  []float64
	payload map[string]interface{}
}

type collection struct {
	size     int
	distance string
	indexes  []string
	points   map[string]point
}

// SearchRequest 记录收到的检索请求
type SearchRequest struct {
	Collection string
	Limit      int
	Must       map[string]string
}

// Server 内存 Qdrant
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	searches    []SearchRequest
	upserts     int
	failing     bool
	noFilter    bool
}

// NewServer 启动服务，测试结束时调用 Close
func NewServer() *Server {
	s := &Server{collections: map[string]*collection{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetFailing 打开后所有请求返回 500
func (s *Server) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetIgnoreFilters 打开后检索忽略 filter，模拟索引不一致时的脏结果
func (s *Server) SetIgnoreFilters(ignore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noFilter = ignore
}

// Searches 返回所有检索请求
func (s *Server) Searches() []SearchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SearchRequest, len(s.searches))
	copy(out, s.searches)
	return out
}

// Upserts 写入请求次数
func (s *Server) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Indexes 集合上创建过的 payload 索引
func (s *Server) Indexes(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return append([]string(nil), c.indexes...)
	}
	return nil
}

// Distance 集合创建时声明的距离度量
func (s *Server) Distance(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c.distance
	}
	return ""
}

// PutPoint 直接写入一个点，绕过客户端，用于构造异常数据
func (s *Server) PutPoint(name, id string, vector []float64, payload map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &collection{size: len(vector), distance: "Cosine", points: map[string]point{}}
		s.collections[name] = c
	}
	c.points[id] = point{id: id, vector: vector, payload: payload}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/collections"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	name := parts[0]
	rest := strings.Join(parts[1:], "/")
	c := s.collections[name]

	var body map[string]json.RawMessage
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		if c == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]interface{}{
			"config": map[string]interface{}{"params": map[string]interface{}{
				"vectors": map[string]interface{}{"size": c.size, "distance": c.distance},
			}},
		}})
	case rest == "" && r.Method == http.MethodPut:
		var vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		}
		_ = json.Unmarshal(body["vectors"], &vectors)
		s.collections[name] = &collection{size: vectors.Size, distance: vectors.Distance, points: map[string]point{}}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": true})
	case c == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "not found"})
	case rest == "index" && r.Method == http.MethodPut:
		var field string
		_ = json.Unmarshal(body["field_name"], &field)
		c.indexes = append(c.indexes, field)
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]string{"status": "completed"}})
	case rest == "points" && r.Method == http.MethodPut:
		var pts []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		}
		_ = json.Unmarshal(body["points"], &pts)
		for _, p := range pts {
			if len(p.Vector) != c.size {
				writeJSON(w, http.StatusBadRequest, map[string]string{"status": "wrong vector size"})
				return
			}
			c.points[p.ID] = point{id: p.ID, vector: p.Vector, payload: p.Payload}
		}
		s.upserts++
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]string{"status": "completed"}})
	case rest == "points" && r.Method == http.MethodPost:
		var ids []string
		_ = json.Unmarshal(body["ids"], &ids)
		result := []map[string]interface{}{}
		for _, id := range ids {
			if p, ok := c.points[id]; ok {
				result = append(result, map[string]interface{}{"id": p.id, "payload": p.payload})
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
	case rest == "points/search" && r.Method == http.MethodPost:
		s.search(w, name, c, body)
	case rest == "points/count" && r.Method == http.MethodPost:
		writeJSON(w, http.StatusOK, map[string]interface{}{"result": map[string]int{"count": len(c.points)}})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"status": fmt.Sprintf("unsupported %s %s", r.Method, r.URL.Path)})
	}
}

func (s *Server) search(w http.ResponseWriter, name string, c *collection, body map[string]json.RawMessage) {
	var vector []float64
	var limit int
	var filter struct {
		Must []struct {
			Key   string `json:"key"`
			Match struct {
				Value interface{} `json:"value"`
			} `json:"match"`
		} `json:"must"`
	}
	_ = json.Unmarshal(body["vector"], &vector)
	_ = json.Unmarshal(body["limit"], &limit)
	_ = json.Unmarshal(body["filter"], &filter)

	must := map[string]string{}
	for _, m := range filter.Must {
		must[m.Key] = fmt.Sprint(m.Match.Value)
	}
	s.searches = append(s.searches, SearchRequest{Collection: name, Limit: limit, Must: must})

	type hit struct {
		p     point
		score float64
	}
	var hits []hit
	for _, p := range c.points {
		matched := true
		for k, v := range must {
			if s.noFilter {
				break
			}
			if fmt.Sprint(p.payload[k]) != v {
				matched = false
				break
			}
		}
		if matched {
			hits = append(hits, hit{p: p, score: cosine(vector, p.vector)})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].p.id < hits[j].p.id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	result := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		result = append(result, map[string]interface{}{"id": h.p.id, "score": h.score, "payload": h.p.payload})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result, "status": "ok", "time": 0.001})
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
