package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"codestream/internal/logging"
	"codestream/internal/room"
	"codestream/internal/workspace"
	"codestream/pkg/types"
)

// RoomDirectory exposes live room state.
type RoomDirectory interface {
	List() []room.Summary
	Snapshot(roomID string) (room.Snapshot, bool)
}

// ConnectionCounter reports live socket count.
type ConnectionCounter interface {
	Count() int
}

// HealthChecker is a dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Workspace serves the project directory.
type Workspace interface {
	ListTree(ctx context.Context) (*workspace.Node, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Deps are the collaborators of a Server. Nil Database or Workspace disable
// the corresponding checks and routes.
type Deps struct {
	Rooms       RoomDirectory
	Connections ConnectionCounter
	Database    HealthChecker
	Workspace   Workspace
	// WebSocket is mounted at /ws outside the JSON middleware.
	WebSocket http.Handler
}

// Server is the HTTP surface.
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps      Deps
	router    *mux.Router
	startedAt time.Time
	log       *logrus.Entry
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
		log:       logging.Component("api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.deps.WebSocket != nil {
		s.router.Handle("/ws", s.deps.WebSocket).Methods(http.MethodGet)
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.corsMiddleware, s.jsonMiddleware)

	api.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms", s.listRooms).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/api/rooms/{id}", s.getRoom).Methods(http.MethodGet, http.MethodOptions)

	if s.deps.Workspace != nil {
		api.HandleFunc("/api/workspace/tree", s.workspaceTree).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/api/workspace/file", s.readFile).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/api/workspace/file", s.writeFile).Methods(http.MethodPost)
	}

	s.router.MethodNotAllowedHandler = s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})))
	s.router.NotFoundHandler = s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	})))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
	Uptime      string    `json:"uptime"`
}

type RoomsResponse struct {
	Rooms []room.Summary `json:"rooms"`
}

// FileSummary is a file without its content.
type FileSummary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Language       string `json:"language"`
	LastModifiedBy string `json:"lastModifiedBy,omitempty"`
}

type RoomResponse struct {
	ID           string              `json:"id"`
	Files        []FileSummary       `json:"files"`
	Participants []types.Participant `json:"participants"`
}

type FileRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.deps.Database != nil {
		dbStatus = "healthy"
		if err := s.deps.Database.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = "error: " + err.Error()
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Rooms:     len(s.deps.Rooms.List()),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Connections != nil {
		response.Connections = s.deps.Connections.Count()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	s.encode(w, response)
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	s.encode(w, RoomsResponse{Rooms: s.deps.Rooms.List()})
}

// GET /api/rooms/{id}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	snap, ok := s.deps.Rooms.Snapshot(roomID)
	if !ok {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	files := make([]FileSummary, 0, len(snap.Files))
	for _, f := range snap.Files {
		files = append(files, FileSummary{
			ID:             f.ID,
			Name:           f.Name,
			Language:       f.Language,
			LastModifiedBy: f.LastModifiedBy,
		})
	}
	s.encode(w, RoomResponse{ID: roomID, Files: files, Participants: snap.Participants})
}

// GET /api/workspace/tree
func (s *Server) workspaceTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.deps.Workspace.ListTree(r.Context())
	if err != nil {
		s.sendWorkspaceError(w, err)
		return
	}
	s.encode(w, tree)
}

// GET /api/workspace/file?path=
func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, "Query parameter path is required", http.StatusBadRequest)
		return
	}
	data, err := s.deps.Workspace.ReadFile(r.Context(), path)
	if err != nil {
		s.sendWorkspaceError(w, err)
		return
	}
	s.encode(w, FileResponse{Path: path, Content: string(data)})
}

// POST /api/workspace/file
func (s *Server) writeFile(w http.ResponseWriter, r *http.Request) {
	var req FileRequest
	body := io.LimitReader(r.Body, 10<<20)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Content == nil {
		s.sendError(w, "Fields path and content are required", http.StatusBadRequest)
		return
	}
	if err := s.deps.Workspace.WriteFile(r.Context(), req.Path, []byte(*req.Content)); err != nil {
		s.sendWorkspaceError(w, err)
		return
	}
	s.encode(w, map[string]string{"message": "File saved", "path": req.Path})
}

func (s *Server) sendWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrAccessDenied):
		s.sendError(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, workspace.ErrNotFound):
		s.sendError(w, "File not found", http.StatusNotFound)
	case errors.Is(err, workspace.ErrIsDirectory), errors.Is(err, workspace.ErrEmptyPath):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.WithError(err).Error("Workspace operation failed")
		s.sendError(w, "Workspace operation failed", http.StatusInternalServerError)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("Failed to write response")
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
