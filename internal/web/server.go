package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cdpmock/internal/logger"
	"cdpmock/internal/schema"
	"cdpmock/pkg/api"
)

// Server 管理界面使用的 HTTP 控制接口
type Server struct {
	addr      string
	svc       api.Service
	validator *schema.Validator
	server    *http.Server
	log       logger.Logger
}

// NewServer 创建控制接口服务
func NewServer(addr string, svc api.Service, l logger.Logger) (*Server, error) {
	if l == nil {
		l = logger.NewNop()
	}
	v, err := schema.Default()
	if err != nil {
		return nil, err
	}
	s := &Server{addr: addr, svc: svc, validator: v, log: l}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler 返回注册了所有路由的 http.Handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/enabled", s.handleSetEnabled)

	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleAddRule)
	mux.HandleFunc("DELETE /api/rules", s.handleClearRules)
	mux.HandleFunc("PUT /api/rules/{index}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /api/rules/{index}", s.handleDeleteRule)
	mux.HandleFunc("POST /api/rules/{index}/toggle", s.handleToggleRule)

	mux.HandleFunc("GET /api/schema/rule", s.handleRuleSchema)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return cors(mux)
}

// Start 阻塞监听直到 Stop 被调用
func (s *Server) Start() error {
	s.log.Info("控制接口开始监听", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// cors 本地管理界面可能来自任意源
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
