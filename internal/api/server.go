package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lifeline/internal/auth"
	"lifeline/internal/vault"
	"lifeline/pkg/interfaces"
	"lifeline/pkg/types"
)

// AlertPublisher queues one alert and reports its delivered count
// ARCHITECTURAL DISCOVERY: Local interface avoids tight coupling to the hub
// implementation and lets tests substitute a canned publisher
type AlertPublisher interface {
	Broadcast(ctx context.Context, childID string, child types.ChildSnapshot, message string) (int, error)
}

// Registry exposes connection statistics for the health endpoint
type Registry interface {
	GetStats() map[string]int
}

// TokenIssuer mints bearer credentials for authenticated principals
type TokenIssuer interface {
	GenerateToken(principal *types.Principal) (string, error)
}

// Server is the HTTP surface: credential issuance, account linking, the SOS
// trigger endpoint, the chat-log boundary and health
// No business logic here - only HTTP handling and JSON serialization
type Server struct {
	directory interfaces.Directory
	chatStore interfaces.ChatLogStore
	verifier  interfaces.TokenVerifier
	issuer    TokenIssuer
	publisher AlertPublisher
	registry  Registry
	vault     *vault.Vault
	router    *http.ServeMux
}

// NewServer wires all dependencies and sets up routing
func NewServer(directory interfaces.Directory, chatStore interfaces.ChatLogStore, verifier interfaces.TokenVerifier, issuer TokenIssuer, publisher AlertPublisher, registry Registry, v *vault.Vault) *Server {
	s := &Server{
		directory: directory,
		chatStore: chatStore,
		verifier:  verifier,
		issuer:    issuer,
		publisher: publisher,
		registry:  registry,
		vault:     v,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/auth/register", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRegister))))
	s.router.Handle("/api/auth/login", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLogin))))
	s.router.Handle("/api/links", s.corsMiddleware(s.jsonMiddleware(s.authenticate(s.handleLink))))
	s.router.Handle("/api/sos/trigger", s.corsMiddleware(s.jsonMiddleware(s.authenticate(s.handleTrigger))))
	s.router.Handle("/api/chat/logs", s.corsMiddleware(s.jsonMiddleware(s.authenticate(s.handleChatLogs))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler for integration with the standard server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User  *types.Principal `json:"user"`
	Token string           `json:"token"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LinkRequest struct {
	UserID   string `json:"userId"`
	LinkedID string `json:"linkedId"`
}

type TriggerRequest struct {
	Message string `json:"message"`
}

type TriggerResponse struct {
	Success            bool   `json:"success"`
	Message            string `json:"message"`
	Timestamp          string `json:"timestamp"`
	RecipientsNotified int    `json:"recipientsNotified"`
}

type ChatLogRequest struct {
	Content string `json:"content"`
}

type ChatLogEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRegister creates a principal and issues its first token
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidRole(req.Role) {
		s.sendError(w, types.ErrInvalidRole.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.sendError(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	principal := &types.Principal{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		Role:         req.Role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.directory.CreateUser(r.Context(), principal); err != nil {
		switch err {
		case interfaces.ErrDuplicateUser:
			s.sendError(w, "Username already taken", http.StatusConflict)
		case types.ErrInvalidUserID, types.ErrInvalidUsername, types.ErrInvalidFullName, types.ErrInvalidRole:
			s.sendError(w, err.Error(), http.StatusBadRequest)
		default:
			s.sendError(w, "Failed to create user", http.StatusInternalServerError)
		}
		return
	}

	token, err := s.issuer.GenerateToken(principal)
	if err != nil {
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(AuthResponse{User: principal, Token: token})
}

// handleLogin verifies the password and issues a fresh token
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	principal, err := s.directory.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// FUNCTIONAL DISCOVERY: Identical response for unknown user and wrong
		// password prevents username probing
		s.sendError(w, ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(req.Password)); err != nil {
		s.sendError(w, ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	token, err := s.issuer.GenerateToken(principal)
	if err != nil {
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(AuthResponse{User: principal, Token: token})
}

// handleLink records a symmetric child/guardian association
// FUNCTIONAL DISCOVERY: Links affect only future connections - a guardian
// already subscribed must reconnect to pick up a new child
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	for _, id := range []string{req.UserID, req.LinkedID} {
		if _, err := s.directory.GetUser(r.Context(), id); err != nil {
			if err == interfaces.ErrUserNotFound {
				s.sendError(w, fmt.Sprintf("User %s not found", id), http.StatusNotFound)
			} else {
				s.sendError(w, "Failed to resolve user", http.StatusInternalServerError)
			}
			return
		}
	}

	if err := s.directory.LinkAccounts(r.Context(), req.UserID, req.LinkedID); err != nil {
		s.sendError(w, "Failed to link accounts", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Accounts linked successfully"})
}

// handleTrigger is the one-shot SOS endpoint for child principals
// FUNCTIONAL DISCOVERY: recipientsNotified 0 is a successful response -
// the child's request never fails merely because no guardian was reachable
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if principal.Role != types.RoleChild {
		s.sendError(w, "Only children can trigger SOS alerts", http.StatusForbidden)
		return
	}

	// An empty body is a bare button press sending the canned message, but a
	// present-and-garbled body means a broken client and must be rejected
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.sendError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}

	if !types.IsValidAlertMessage(req.Message) {
		s.sendError(w, types.ErrMessageTooLarge.Error(), http.StatusBadRequest)
		return
	}

	count, err := s.publisher.Broadcast(r.Context(), principal.ID, principal.Snapshot(), req.Message)
	if err != nil {
		log.Printf("SOS trigger error for child %s: %v", principal.ID, err)
		s.sendError(w, "Failed to trigger SOS alert", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(TriggerResponse{
		Success:            true,
		Message:            "SOS alert has been sent to your trusted adults",
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		RecipientsNotified: count,
	})
}

// handleChatLogs stores and retrieves encrypted conversation logs
// ARCHITECTURAL DISCOVERY: Encryption happens at this boundary - the store
// only ever sees the hex envelope, and responses only ever carry plaintext
func (s *Server) handleChatLogs(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	switch r.Method {
	case http.MethodPost:
		var req ChatLogRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if req.Content == "" {
			s.sendError(w, ErrMissingBody.Error(), http.StatusBadRequest)
			return
		}

		payload, err := s.vault.Encrypt(req.Content)
		if err != nil {
			s.sendError(w, "Failed to encrypt log", http.StatusInternalServerError)
			return
		}

		entry := &types.ChatLog{
			ID:        uuid.New().String(),
			UserID:    principal.ID,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.chatStore.StoreChatLog(r.Context(), entry); err != nil {
			s.sendError(w, "Failed to store log", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": entry.ID})

	case http.MethodGet:
		entries, err := s.chatStore.GetChatLogs(r.Context(), principal.ID)
		if err != nil {
			s.sendError(w, "Failed to load logs", http.StatusInternalServerError)
			return
		}

		logs := make([]ChatLogEntry, 0, len(entries))
		for _, entry := range entries {
			content, err := s.vault.Decrypt(entry.Payload)
			if err != nil {
				// A corrupt envelope is skipped, not fatal for the whole list
				log.Printf("Failed to decrypt chat log %s: %v", entry.ID, err)
				continue
			}
			logs = append(logs, ChatLogEntry{ID: entry.ID, Content: content, CreatedAt: entry.CreatedAt})
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{"logs": logs})

	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)

	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// healthCheck reports component status with connection statistics
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.directory.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// authenticate resolves the Bearer credential and injects the principal
// ARCHITECTURAL DISCOVERY: Authentication failures never reach the handler -
// downstream code can assume a resolved, existing principal
func (s *Server) authenticate(next func(http.ResponseWriter, *http.Request, *types.Principal)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.sendError(w, "No token provided", http.StatusUnauthorized)
			return
		}

		principal, err := s.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			switch err {
			case auth.ErrUnknownPrincipal:
				s.sendError(w, "User not found", http.StatusUnauthorized)
			default:
				s.sendError(w, "Invalid token", http.StatusUnauthorized)
			}
			return
		}

		next(w, r, principal)
	})
}

// sendError writes the consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers on all API responses
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
