package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/evently/collab/internal/hub"
	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/middleware"
	"github.com/evently/collab/internal/models"
)

// historyPageSize is the number of messages returned per history fetch.
const historyPageSize = 50

// previewLimit caps the notification excerpt length, in runes.
const previewLimit = 80

// Service persists messages and fans them out: the live copy to the room, a
// notification to team members who are connected somewhere else.
type Service struct {
	DB  *sql.DB
	Hub *hub.Hub
	Log *logger.Logger
}

// NewService initializes a new message service.
func NewService(db *sql.DB, h *hub.Hub) *Service {
	return &Service{
		DB:  db,
		Hub: h,
		Log: logger.New("message-service"),
	}
}

// History returns one page of past messages for a team room, oldest first.
// The page is the most recent historyPageSize messages; the chronological
// order of the response is the contract the client merger relies on.
func (s *Service) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	teamID, err := strconv.ParseInt(mux.Vars(r)["team_id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}

	member, err := s.isTeamMember(ctx, teamID, userID)
	if err != nil {
		s.Log.Error("Failed to check team membership", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to verify team membership")
		return
	}
	if !member {
		respondWithError(w, http.StatusForbidden, "You don't have access to this team")
		return
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT m.message_id, m.team_id, m.sender_id, u.first_name, u.last_name,
		       m.msg_type, m.content, m.file_url, m.created_at
		FROM messages m
		INNER JOIN users u ON u.user_id = m.sender_id
		WHERE m.team_id = ?
		ORDER BY m.created_at DESC, m.message_id DESC
		LIMIT ?
	`, teamID, historyPageSize)
	if err != nil {
		s.Log.Error("Failed to query messages", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get messages")
		return
	}
	defer rows.Close()

	var page []models.Message
	for rows.Next() {
		var m models.Message
		var sender models.User
		var fileURL sql.NullString
		if err := rows.Scan(&m.ID, &m.TeamID, &m.SenderID, &sender.FirstName, &sender.LastName, &m.Type, &m.Content, &fileURL, &m.CreatedAt); err != nil {
			s.Log.Error("Failed to scan message row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process messages")
			return
		}
		m.SenderName = sender.DisplayName()
		m.FileURL = fileURL.String
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		s.Log.Error("Error iterating message rows", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Error processing messages")
		return
	}

	// The query fetched newest-first to pick the latest page; the response
	// is oldest-first.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"messages": page})
}

// HandleSend is the hub's sink for send-message events: persist, broadcast to
// the room, notify members elsewhere. The hub has already verified the sender
// is bound to the room.
func (s *Service) HandleSend(ctx context.Context, senderID int64, senderName string, p models.SendMessagePayload) error {
	switch p.Type {
	case models.MessageText, models.MessageImage, models.MessageFile:
	default:
		return &models.RuleError{Code: "invalid_type", Message: "unknown message type"}
	}
	if p.Content == "" {
		return &models.RuleError{Code: "empty_message", Message: "message is empty"}
	}

	msg := models.Message{
		ID:         uuid.NewString(),
		TeamID:     p.TeamID,
		SenderID:   senderID,
		SenderName: senderName,
		Type:       p.Type,
		Content:    p.Content,
		FileURL:    p.FileURL,
		CreatedAt:  time.Now().UTC().Unix(),
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO messages (message_id, team_id, sender_id, msg_type, content, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.TeamID, msg.SenderID, msg.Type, msg.Content, nullable(msg.FileURL), msg.CreatedAt)
	if err != nil {
		s.Log.Error("Failed to insert message", "error", err)
		return err
	}

	data, err := models.NewEnvelope(models.EventNewMessage, msg)
	if err != nil {
		return err
	}
	s.Hub.BroadcastToRoom(msg.TeamID, data, nil)

	s.notifyTeam(ctx, msg)
	return nil
}

// notifyTeam pushes a cross-team notification to every team member except the
// sender. The hub skips connections already inside the room.
func (s *Service) notifyTeam(ctx context.Context, msg models.Message) {
	var teamName string
	err := s.DB.QueryRowContext(ctx,
		`SELECT team_name FROM teams WHERE team_id = ?`, msg.TeamID,
	).Scan(&teamName)
	if err != nil {
		s.Log.Error("Failed to load team name", "error", err, "team_id", msg.TeamID)
		return
	}

	memberIDs, err := s.teamMemberIDs(ctx, msg.TeamID)
	if err != nil {
		s.Log.Error("Failed to load team members", "error", err, "team_id", msg.TeamID)
		return
	}

	preview := msg.Content
	if runes := []rune(preview); len(runes) > previewLimit {
		preview = string(runes[:previewLimit]) + "…"
	}

	data, err := models.NewEnvelope(models.EventNotification, models.NotificationPayload{
		SenderName: msg.SenderName,
		TeamName:   teamName,
		Preview:    preview,
		Route:      "/teams",
	})
	if err != nil {
		return
	}

	for _, uid := range memberIDs {
		if uid == msg.SenderID {
			continue
		}
		s.Hub.NotifyUser(uid, msg.TeamID, data)
	}
}

func (s *Service) teamMemberIDs(ctx context.Context, teamID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT leader_id FROM teams WHERE team_id = ?
		UNION
		SELECT user_id FROM team_members WHERE team_id = ? AND status = ?
	`, teamID, teamID, models.MembershipAccepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) isTeamMember(ctx context.Context, teamID, userID int64) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `
		SELECT 1 FROM teams t
		LEFT JOIN team_members tm ON tm.team_id = t.team_id AND tm.user_id = ?
		WHERE t.team_id = ? AND (t.leader_id = ? OR tm.user_id = ?)
		LIMIT 1
	`, userID, teamID, userID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Helper functions for HTTP responses
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling JSON: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
