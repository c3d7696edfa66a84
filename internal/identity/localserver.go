package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// LocalServer is a minimal, in-memory reference identity service — the
// external collaborator SPEC_FULL.md §1 calls out as out of core scope.
// It exists so the module is runnable end to end without a separate
// process, and to give the teacher's auth stack (golang-jwt/jwt/v5,
// golang.org/x/crypto/bcrypt, the Bearer-header convention from
// middleware/auth.go) a concrete home. Production deployments point
// HTTPResolver at a real identity service instead.
type LocalServer struct {
	secret []byte

	mu      sync.RWMutex
	byEmail map[string]*localUser
	nextID  atomic.Uint32
}

type localUser struct {
	id           uint32
	email        string
	passwordHash string
}

// NewLocalServer builds a LocalServer signing tokens with secret.
func NewLocalServer(secret string) *LocalServer {
	return &LocalServer{
		secret:  []byte(secret),
		byEmail: make(map[string]*localUser),
	}
}

// Register creates an account, hashing the password with bcrypt the same
// way handlers/auth.go's Register does.
func (s *LocalServer) Register(email, password string) (uint32, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return 0, errors.New("identity: email already registered")
	}
	id := s.nextID.Add(1)
	s.byEmail[email] = &localUser{id: id, email: email, passwordHash: string(hash)}
	return id, nil
}

func (s *LocalServer) signToken(userID uint32) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *LocalServer) verifyToken(tokenStr string) (uint32, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("identity: invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("identity: invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseUint(sub, 10, 32)
	if err != nil {
		return 0, errors.New("identity: invalid token subject")
	}
	return uint32(id), nil
}

// ServeHTTP exposes /login (email+password -> token) and /verify
// (token -> user_id), the two endpoints HTTPResolver and client logins
// need. Routing is deliberately bare net/http — this server is reference
// scaffolding, not the REST collaborator (internal/restapi).
func (s *LocalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login":
		s.handleLogin(w, r)
	case "/verify":
		s.handleVerify(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *LocalServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	u, ok := s.byEmail[req.Email]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	token, err := s.signToken(u.id)
	if err != nil {
		http.Error(w, "could not generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *LocalServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := s.verifyToken(req.Token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{UserID: userID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
