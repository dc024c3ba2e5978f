package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"e2e_messenger/internal/model"
	keysRepo "e2e_messenger/internal/repository/keys"
	"e2e_messenger/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	// UserDirectory registers users on first connect.
	UserDirectory interface {
		EnsureByName(ctx context.Context, name string) (*model.User, error)
	}

	// MessageQueue is the offline envelope queue, list semantics per recipient.
	MessageQueue interface {
		RPush(ctx context.Context, key string, value ...any) error
		LPush(ctx context.Context, key string, value ...any) error
		LPop(ctx context.Context, key string) (string, bool, error)
	}

	// HttpServer is the peer directory plus realtime relay: it stores
	// published key bundles, hands them out with consume-on-fetch semantics,
	// and forwards envelopes between connected clients, queueing for the
	// offline ones.
	HttpServer struct {
		addr string

		mu     sync.Mutex
		mapper map[string]*websocket.Conn

		users     UserDirectory
		directory keysRepo.Directory
		queue     MessageQueue
	}
)

func NewHttpServer(addr string, users UserDirectory, directory keysRepo.Directory, queue MessageQueue) *HttpServer {
	return &HttpServer{
		addr:      addr,
		mapper:    make(map[string]*websocket.Conn),
		users:     users,
		directory: directory,
		queue:     queue,
	}
}

func (s *HttpServer) Run() {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/keys/publish", s.HandlePublishKeys()).Methods(http.MethodPost)
	r.HandleFunc("/keys/fetch/{peerId}", s.HandleFetchBundle()).Methods(http.MethodGet)
	r.HandleFunc("/keys/count/{peerId}", s.HandleCountPreKeys()).Methods(http.MethodGet)

	if err := http.ListenAndServe(s.addr, r); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}

// HandlePublishKeys upserts a user's public key material. Re-publishing is
// idempotent: identity fields are overwritten, one-time prekeys appended and
// deduplicated by id.
func (s *HttpServer) HandlePublishKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var rec model.KeyRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, "invalid key record", http.StatusBadRequest)
			return
		}
		if rec.UserID == "" {
			http.Error(w, "userId cannot be empty", http.StatusBadRequest)
			return
		}

		count, err := s.directory.Upsert(ctx, &rec)
		if err != nil {
			log.Error("publish keys failed", zap.Error(err))
			http.Error(w, "publish keys failed", http.StatusInternalServerError)
			return
		}

		log.Info("published key material",
			zap.String("userId", rec.UserID),
			zap.Int("oneTimePreKeys", count))

		writeJSON(w, &model.PublishResponse{Message: "keys published", Count: count})
	}
}

// HandleFetchBundle hands out a peer's bundle. The returned one-time prekey
// is removed from the inventory before the response leaves the server; once
// the pool drains, bundles ship with oneTimePreKey null.
func (s *HttpServer) HandleFetchBundle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		peerID := mux.Vars(r)["peerId"]

		bundle, err := s.directory.TakeBundle(ctx, peerID)
		if errors.Is(err, keysRepo.ErrNotFound) {
			http.Error(w, "user has not published keys", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("fetch bundle failed", zap.Error(err))
			http.Error(w, "fetch bundle failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, bundle)
	}
}

func (s *HttpServer) HandleCountPreKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		peerID := mux.Vars(r)["peerId"]

		count, err := s.directory.CountOneTimePreKeys(ctx, peerID)
		if err != nil {
			log.Error("count prekeys failed", zap.Error(err))
			http.Error(w, "count prekeys failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, &model.CountResponse{Count: count})
	}
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userID")
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		if _, err := s.users.EnsureByName(r.Context(), userID); err != nil {
			log.Error("ensure user failed", zap.Error(err))
			http.Error(w, "ensure user failed", http.StatusInternalServerError)
			return
		}

		// Check and reserve the slot in one critical section so two racing
		// connects with the same userID cannot both pass the check.
		s.mu.Lock()
		if _, ok := s.mapper[userID]; ok {
			s.mu.Unlock()
			http.Error(w, "duplicated userID", http.StatusBadRequest)
			return
		}
		s.mapper[userID] = nil
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response.
			s.mu.Lock()
			delete(s.mapper, userID)
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.mapper[userID] = conn
		s.mu.Unlock()

		go s.processWSMessage(userID, conn)
		if err := s.ForwardUnsentMessages(userID); err != nil {
			log.Error("forward msg failed", zap.Error(err))
		}
	}
}

func (s *HttpServer) processWSMessage(userID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			s.mu.Lock()
			delete(s.mapper, userID)
			s.mu.Unlock()
			conn.Close()
			break
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}

		// The envelope is opaque to the relay; it is forwarded verbatim or
		// queued until the recipient connects. A reserved-but-not-upgraded
		// slot counts as offline.
		s.mu.Lock()
		target := s.mapper[message.To]
		s.mu.Unlock()

		if target != nil {
			if err := target.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("forward to recipient failed", zap.Error(err))
			}
			continue
		}
		if err := s.PutMessagesToCache(context.TODO(), message.To, []*model.Message{&message}); err != nil {
			log.Error("PutMessagesToCache failed", zap.Error(err))
		}
	}
}

// ForwardUnsentMessages drains the user's offline queue onto their socket.
// A message is only removed from the queue once; if the write fails it is
// put back at the head so nothing drains into a dead connection.
func (s *HttpServer) ForwardUnsentMessages(userID string) error {
	ctx := context.TODO()
	for {
		s.mu.Lock()
		conn := s.mapper[userID]
		s.mu.Unlock()
		if conn == nil {
			return nil
		}

		message, ok, err := s.popMessageFromCache(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := conn.WriteJSON(message); err != nil {
			if qerr := s.requeueMessage(ctx, userID, message); qerr != nil {
				return qerr
			}
			return err
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}
