// Package fakeapi 提供一个内存版的 Scratch 内容接口（metadata / manifest / asset），
// 供各层测试在不访问真实网络的情况下驱动完整流程。
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Project 描述一个假项目。
//
// MetadataBody/ManifestBody 非 nil 时原样返回（用于构造错误文档/旧格式/HTML 页面）；
// 否则由 Title/Author/Token/Targets 生成。
type Project struct {
	ID     string
	Title  string
	Author string
	Token  string

	Targets []Target

	MetadataBody   []byte
	MetadataStatus int
	ManifestBody   []byte
	ManifestStatus int
}

// Target 是生成 manifest 时使用的最小 target 描述；Costumes/Sounds 为内容标识（md5ext）。
type Target struct {
	Name     string
	IsStage  bool
	Costumes []string
	Sounds   []string
}

// Server 是一个 httptest.Server，三个 base URL 都指向它。
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	projects map[string]Project
	assets   map[string][]byte
	fail     map[string]int
	requests []string
}

// New 启动假服务；调用方负责 Close。
func New() *Server {
	s := &Server{
		projects: map[string]Project{},
		assets:   map[string][]byte{},
		fail:     map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/projects/{id}", s.handleMetadata)
	r.Get("/internalapi/asset/{asset}/get/", s.handleAsset)
	r.Get("/{id}", s.handleManifest)

	s.Server = httptest.NewServer(r)
	return s
}

func (s *Server) AddProject(p Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *Server) AddAsset(contentID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[contentID] = append([]byte(nil), data...)
}

// FailAsset 让某个资源请求失败：status>0 返回该状态码；status==0 直接断开连接（传输层错误）。
func (s *Server) FailAsset(contentID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[contentID] = status
}

// Requests 返回按到达顺序记录的请求路径（含 query）。
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// AssetRequests 只返回资源请求的内容标识。
func (s *Server) AssetRequests() []string {
	var out []string
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, "/internalapi/asset/") {
			out = append(out, path.Base(strings.TrimSuffix(strings.TrimSuffix(r, "/"), "/get")))
		}
	}
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.RequestURI())
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) project(id string) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NotFound", "message": ""})
		return
	}
	if p.MetadataBody != nil {
		w.WriteHeader(statusOr(p.MetadataStatus, http.StatusOK))
		_, _ = w.Write(p.MetadataBody)
		return
	}
	writeJSON(w, statusOr(p.MetadataStatus, http.StatusOK), map[string]any{
		"id":            p.ID,
		"title":         p.Title,
		"author":        map[string]string{"username": p.Author},
		"project_token": p.Token,
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	p, ok := s.project(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if p.Token != "" && r.URL.Query().Get("token") != p.Token {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><head><title>Forbidden</title></head><body></body></html>"))
		return
	}
	if p.ManifestBody != nil {
		w.WriteHeader(statusOr(p.ManifestStatus, http.StatusOK))
		_, _ = w.Write(p.ManifestBody)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOr(p.ManifestStatus, http.StatusOK))
	_, _ = w.Write(BuildManifest(p.Targets...))
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "asset")

	s.mu.Lock()
	status, failing := s.fail[id]
	data, ok := s.assets[id]
	s.mu.Unlock()

	if failing {
		if status > 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			http.Error(w, "hijack unsupported", http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

// BuildManifest 生成一个最小但结构完整的 sb3 manifest。
func BuildManifest(targets ...Target) []byte {
	type asset struct {
		AssetID    string `json:"assetId"`
		Name       string `json:"name"`
		MD5Ext     string `json:"md5ext"`
		DataFormat string `json:"dataFormat"`
	}
	type target struct {
		IsStage  bool           `json:"isStage"`
		Name     string         `json:"name"`
		Costumes []asset        `json:"costumes"`
		Sounds   []asset        `json:"sounds"`
		Blocks   map[string]any `json:"blocks"`
	}
	conv := func(ids []string) []asset {
		out := make([]asset, 0, len(ids))
		for i, id := range ids {
			ext := path.Ext(id)
			out = append(out, asset{
				AssetID:    strings.TrimSuffix(id, ext),
				Name:       fmt.Sprintf("asset%d", i+1),
				MD5Ext:     id,
				DataFormat: strings.TrimPrefix(ext, "."),
			})
		}
		return out
	}

	doc := struct {
		Targets []target          `json:"targets"`
		Meta    map[string]string `json:"meta"`
	}{
		Targets: make([]target, 0, len(targets)),
		Meta:    map[string]string{"semver": "3.0.0", "vm": "0.2.0", "agent": "fakeapi"},
	}
	for _, t := range targets {
		doc.Targets = append(doc.Targets, target{
			IsStage:  t.IsStage,
			Name:     t.Name,
			Costumes: conv(t.Costumes),
			Sounds:   conv(t.Sounds),
			Blocks:   map[string]any{},
		})
	}
	b, _ := json.Marshal(doc)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
