// Package restapi is the minimal REST collaborator SPEC_FULL.md §6 calls
// out as deliberately thin: room creation and membership management, the
// bootstrapping operations a client needs before it ever opens the
// WebSocket upgrade. It is routed with the same chi + go-chi/cors stack
// main.go uses for the teacher's REST surface, kept separate from the
// WebSocket core so the two can evolve independently.
package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kartnagrale/relaychat/internal/chattypes"
	"github.com/kartnagrale/relaychat/internal/store"
)

// Router builds the REST collaborator's handler tree over st. jwtSecret
// gates the mutating room endpoints behind requireAuth; read endpoints
// stay open, matching the teacher's public product/auction GETs.
func Router(st *store.Store, allowedOrigins []string, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	h := &handler{store: st}
	r.Get("/health", h.health)
	r.Get("/rooms/{roomID}", h.getRoom)
	r.Get("/users/{userID}/rooms", h.userRooms)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth(jwtSecret))
		r.Post("/rooms", h.createRoom)
		r.Post("/rooms/{roomID}/participants", h.addParticipants)
		r.Delete("/rooms/{roomID}/participants/{userID}", h.removeParticipant)
	})
	return r
}

type handler struct {
	store *store.Store
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createRoom(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := userIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Title   string             `json:"title"`
		Members []chattypes.UserID `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	room, err := h.store.InsertChatRoom(r.Context(), req.Title, ownerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	members := append([]chattypes.UserID{ownerID}, req.Members...)
	if err := h.store.InsertChatRoomParticipants(r.Context(), room.ID, members); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *handler) getRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	room, err := h.store.GetChatRoom(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *handler) userRooms(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r, "userID")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rooms, err := h.store.FetchAllUserChatRooms(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []chattypes.ChatRoom{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *handler) addParticipants(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		UserIDs []chattypes.UserID `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.store.InsertChatRoomParticipants(r.Context(), roomID, req.UserIDs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, err := userIDParam(r, "userID")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.store.DeleteChatRoomParticipant(r.Context(), roomID, userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func roomIDParam(r *http.Request) (chattypes.RoomID, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "roomID"), 10, 32)
	if err != nil {
		return 0, err
	}
	return chattypes.RoomID(v), nil
}

func userIDParam(r *http.Request, name string) (chattypes.UserID, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, err
	}
	return chattypes.UserID(v), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
