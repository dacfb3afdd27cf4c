package team

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"

	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/middleware"
	"github.com/evently/collab/internal/models"
)

// Service handles team formation: create, invite-code lookup and join, leave,
// disband, and membership queries. Capacity is enforced inside transactions so
// two users racing for the last slot serialize on the team row and the loser
// gets the rejection.
type Service struct {
	DB  *sql.DB
	Log *logger.Logger
}

// NewService initializes a new team service.
func NewService(db *sql.DB) *Service {
	return &Service{
		DB:  db,
		Log: logger.New("team-service"),
	}
}

// CreateTeamRequest represents the request body for team creation.
type CreateTeamRequest struct {
	EventID int64  `json:"event_id"`
	Name    string `json:"name"`
	MaxSize int    `json:"max_size"`
}

// CreateTeam handles the creation of a new team. A user may lead or belong to
// at most one non-disbanded team per event.
func (s *Service) CreateTeam(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.EventID == 0 || req.Name == "" || req.MaxSize < 2 {
		respondWithError(w, http.StatusBadRequest, "event_id, name and max_size >= 2 are required")
		return
	}

	existing, err := s.teamIDForUserAndEvent(ctx, s.DB, userID, req.EventID)
	if err != nil {
		s.Log.Error("Failed to check existing team", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create team")
		return
	}
	if existing != 0 {
		respondWithRuleError(w, models.ErrTeamExists)
		return
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.Log.Error("Failed to begin transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback() // Will be ignored if transaction is committed

	currentTime := time.Now().UTC().Unix()
	var teamID int64

	// The invite code has a unique index; regenerate on the rare collision.
	for attempt := 0; ; attempt++ {
		code, err := GenerateInviteCode()
		if err != nil {
			s.Log.Error("Failed to generate invite code", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to create team")
			return
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO teams (event_id, team_name, leader_id, max_size, status, invite_code, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, req.EventID, req.Name, userID, req.MaxSize, models.TeamForming, code, currentTime, currentTime)
		if err != nil {
			if isDuplicateKey(err) && attempt < 5 {
				continue
			}
			s.Log.Error("Failed to create team", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to create team")
			return
		}

		teamID, err = result.LastInsertId()
		if err != nil {
			s.Log.Error("Failed to get team ID", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to create team")
			return
		}
		break
	}

	if err := tx.Commit(); err != nil {
		s.Log.Error("Failed to commit transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}

	team, err := s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		s.Log.Error("Failed to load created team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to load team")
		return
	}

	s.Log.Info("Team created", "team_id", teamID, "event_id", req.EventID, "user_id", userID)
	respondWithJSON(w, http.StatusCreated, team)
}

// GetByCode resolves an invite code to its team. Read-only, safe to retry;
// used by the join-by-code deep link before the actual join.
func (s *Service) GetByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := middleware.UserID(ctx); !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	code := mux.Vars(r)["code"]
	team, err := s.loadTeamByCode(ctx, s.DB, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithRuleError(w, models.ErrInvalidCode)
			return
		}
		s.Log.Error("Failed to resolve invite code", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve invite code")
		return
	}
	if team.Status == models.TeamDisbanded {
		respondWithRuleError(w, models.ErrInvalidCode)
		return
	}

	respondWithJSON(w, http.StatusOK, team)
}

// JoinByCode attempts to join the team behind an invite code. The team row is
// locked for the duration so the capacity check and the membership insert are
// atomic; a join racing for the last slot loses cleanly with team_full.
// Re-joining a team the user already belongs to is a success path and returns
// the team unchanged.
func (s *Service) JoinByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	code := mux.Vars(r)["code"]

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.Log.Error("Failed to begin transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	var teamID int64
	err = tx.QueryRowContext(ctx,
		`SELECT team_id FROM teams WHERE invite_code = ? FOR UPDATE`, code,
	).Scan(&teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithRuleError(w, models.ErrInvalidCode)
			return
		}
		s.Log.Error("Failed to lock team row", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to join team")
		return
	}

	team, err := s.loadTeam(ctx, tx, teamID)
	if err != nil {
		s.Log.Error("Failed to load team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to join team")
		return
	}

	if team.Status == models.TeamDisbanded {
		respondWithRuleError(w, models.ErrInvalidCode)
		return
	}

	// Already on this team: surface the existing team, not an error.
	if team.HasMember(userID) {
		if err := tx.Commit(); err != nil {
			s.Log.Error("Failed to commit transaction", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Database error")
			return
		}
		respondWithJSON(w, http.StatusOK, team)
		return
	}

	if err := team.CanAdmit(userID); err != nil {
		respondWithRuleError(w, err.(*models.RuleError))
		return
	}

	elsewhere, err := s.teamIDForUserAndEvent(ctx, tx, userID, team.EventID)
	if err != nil {
		s.Log.Error("Failed to check other memberships", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to join team")
		return
	}
	if elsewhere != 0 {
		respondWithRuleError(w, models.ErrAlreadyMember)
		return
	}

	currentTime := time.Now().UTC().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, status, joined_at)
		VALUES (?, ?, ?, ?)
	`, teamID, userID, models.MembershipAccepted, currentTime)
	if err != nil {
		s.Log.Error("Failed to insert membership", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to join team")
		return
	}

	// This join may have filled the last slot.
	status := team.Status
	if team.Size()+1 >= team.MaxSize {
		status = models.TeamComplete
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE teams SET status = ?, updated_at = ? WHERE team_id = ?`,
		status, currentTime, teamID,
	)
	if err != nil {
		s.Log.Error("Failed to update team status", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to join team")
		return
	}

	if err := tx.Commit(); err != nil {
		s.Log.Error("Failed to commit transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}

	team, err = s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		s.Log.Error("Failed to load joined team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to load team")
		return
	}

	s.Log.Info("User joined team", "team_id", teamID, "user_id", userID, "status", team.Status)
	respondWithJSON(w, http.StatusOK, team)
}

// Leave removes the caller's own membership. The leader cannot leave; the
// leader's exit is disbanding.
func (s *Service) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	teamID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.Log.Error("Failed to begin transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}
	defer tx.Rollback()

	var lockedID int64
	err = tx.QueryRowContext(ctx,
		`SELECT team_id FROM teams WHERE team_id = ? FOR UPDATE`, teamID,
	).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Team not found")
			return
		}
		s.Log.Error("Failed to lock team row", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to leave team")
		return
	}

	team, err := s.loadTeam(ctx, tx, teamID)
	if err != nil {
		s.Log.Error("Failed to load team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to leave team")
		return
	}

	if userID == team.LeaderID {
		respondWithRuleError(w, models.ErrLeaderCannotLeave)
		return
	}
	if !team.HasMember(userID) {
		respondWithRuleError(w, models.ErrNotMember)
		return
	}

	currentTime := time.Now().UTC().Unix()
	_, err = tx.ExecContext(ctx,
		`DELETE FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID,
	)
	if err != nil {
		s.Log.Error("Failed to delete membership", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to leave team")
		return
	}

	// A member leaving a complete team reopens it for joining.
	if team.Status == models.TeamComplete {
		_, err = tx.ExecContext(ctx,
			`UPDATE teams SET status = ?, updated_at = ? WHERE team_id = ?`,
			models.TeamForming, currentTime, teamID,
		)
		if err != nil {
			s.Log.Error("Failed to reopen team", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to leave team")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		s.Log.Error("Failed to commit transaction", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database error")
		return
	}

	team, err = s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		s.Log.Error("Failed to load left team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to load team")
		return
	}

	s.Log.Info("User left team", "team_id", teamID, "user_id", userID)
	respondWithJSON(w, http.StatusOK, team)
}

// Disband transitions the team to disbanded. Leader-only and irreversible;
// the invite code stops resolving.
func (s *Service) Disband(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	teamID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team ID")
		return
	}

	team, err := s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Team not found")
			return
		}
		s.Log.Error("Failed to load team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to disband team")
		return
	}

	if userID != team.LeaderID {
		respondWithRuleError(w, models.ErrNotLeader)
		return
	}

	currentTime := time.Now().UTC().Unix()
	_, err = s.DB.ExecContext(ctx,
		`UPDATE teams SET status = ?, updated_at = ? WHERE team_id = ?`,
		models.TeamDisbanded, currentTime, teamID,
	)
	if err != nil {
		s.Log.Error("Failed to disband team", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to disband team")
		return
	}

	team, err = s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		s.Log.Error("Failed to load disbanded team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to load team")
		return
	}

	s.Log.Info("Team disbanded", "team_id", teamID, "user_id", userID)
	respondWithJSON(w, http.StatusOK, team)
}

// ListMine returns all non-disbanded teams the caller leads or belongs to.
func (s *Service) ListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT t.team_id
		FROM teams t
		LEFT JOIN team_members tm ON tm.team_id = t.team_id
		WHERE t.status != ? AND (t.leader_id = ? OR tm.user_id = ?)
		ORDER BY t.created_at DESC
	`, models.TeamDisbanded, userID, userID)
	if err != nil {
		s.Log.Error("Failed to query teams", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get teams")
		return
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			s.Log.Error("Failed to scan team row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process teams data")
			return
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		s.Log.Error("Error iterating teams rows", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Error processing teams data")
		return
	}

	teams := make([]*models.Team, 0, len(ids))
	for _, id := range ids {
		team, err := s.loadTeam(ctx, s.DB, id)
		if err != nil {
			s.Log.Error("Failed to load team", "error", err, "team_id", id)
			respondWithError(w, http.StatusInternalServerError, "Failed to get teams")
			return
		}
		teams = append(teams, team)
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"teams": teams})
}

// MyTeamForEvent is the single authoritative contract for "what is my team
// for this event". Returns the full team entity, or 404 if the caller has no
// live team for the event.
func (s *Service) MyTeamForEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	eventID, err := strconv.ParseInt(mux.Vars(r)["event_id"], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	teamID, err := s.teamIDForUserAndEvent(ctx, s.DB, userID, eventID)
	if err != nil {
		s.Log.Error("Failed to resolve team for event", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve team")
		return
	}
	if teamID == 0 {
		respondWithError(w, http.StatusNotFound, "No team for this event")
		return
	}

	team, err := s.loadTeam(ctx, s.DB, teamID)
	if err != nil {
		s.Log.Error("Failed to load team", "error", err, "team_id", teamID)
		respondWithError(w, http.StatusInternalServerError, "Failed to load team")
		return
	}

	respondWithJSON(w, http.StatusOK, team)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// teamIDForUserAndEvent returns the id of the non-disbanded team the user
// leads or belongs to for the event, or 0.
func (s *Service) teamIDForUserAndEvent(ctx context.Context, q querier, userID, eventID int64) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT t.team_id
		FROM teams t
		LEFT JOIN team_members tm ON tm.team_id = t.team_id AND tm.user_id = ?
		WHERE t.event_id = ? AND t.status != ? AND (t.leader_id = ? OR tm.user_id = ?)
		LIMIT 1
	`, userID, eventID, models.TeamDisbanded, userID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) loadTeam(ctx context.Context, q querier, teamID int64) (*models.Team, error) {
	var team models.Team
	var leader models.User
	err := q.QueryRowContext(ctx, `
		SELECT t.team_id, t.event_id, t.team_name, t.leader_id, t.max_size, t.status, t.invite_code,
		       t.created_at, t.updated_at, u.first_name, u.last_name
		FROM teams t
		INNER JOIN users u ON u.user_id = t.leader_id
		WHERE t.team_id = ?
	`, teamID).Scan(
		&team.ID, &team.EventID, &team.Name, &team.LeaderID, &team.MaxSize, &team.Status,
		&team.InviteCode, &team.CreatedAt, &team.UpdatedAt, &leader.FirstName, &leader.LastName,
	)
	if err != nil {
		return nil, err
	}
	team.LeaderName = leader.DisplayName()

	rows, err := q.QueryContext(ctx, `
		SELECT tm.membership_id, tm.team_id, tm.user_id, tm.status, tm.joined_at, u.first_name, u.last_name
		FROM team_members tm
		INNER JOIN users u ON u.user_id = tm.user_id
		WHERE tm.team_id = ?
		ORDER BY tm.joined_at ASC
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	team.Members = make([]models.Membership, 0)
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Status, &m.JoinedAt, &m.FirstName, &m.LastName); err != nil {
			return nil, err
		}
		team.Members = append(team.Members, m)
	}
	return &team, rows.Err()
}

func (s *Service) loadTeamByCode(ctx context.Context, q querier, code string) (*models.Team, error) {
	var teamID int64
	err := q.QueryRowContext(ctx,
		`SELECT team_id FROM teams WHERE invite_code = ?`, code,
	).Scan(&teamID)
	if err != nil {
		return nil, err
	}
	return s.loadTeam(ctx, q, teamID)
}

// isDuplicateKey reports a MySQL unique-index violation (error 1062).
func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// Helper functions for HTTP responses
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithRuleError(w http.ResponseWriter, re *models.RuleError) {
	status := http.StatusConflict
	switch re.Code {
	case "invalid_code":
		status = http.StatusNotFound
	case "leader_cannot_leave", "not_leader", "not_member":
		status = http.StatusForbidden
	}
	respondWithJSON(w, status, re)
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
