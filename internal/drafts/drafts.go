// Package drafts persists reconciliation sessions locally so a user can
// leave and resume before finalizing. One draft exists per company
// account; committing freezes it into history.
package drafts

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openbooks/bankrec/internal/database"
	"github.com/openbooks/bankrec/internal/recon"
)

// Draft is a persisted snapshot of a reconciliation session
type Draft struct {
	ID             string            `json:"id"`
	CompanyID      string            `json:"company_id"`
	AccountCode    string            `json:"account_code"`
	StatementBatch string            `json:"statement_batch"`
	MatchGroups    []recon.MatchGroup `json:"match_groups"`
	Status         string            `json:"status"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CommittedAt    *time.Time        `json:"committed_at"`
}

// SaveDraftRequest carries everything needed to snapshot a session
type SaveDraftRequest struct {
	CompanyID      string            `json:"company_id"`
	AccountCode    string            `json:"account_code"`
	StatementBatch string            `json:"statement_batch"`
	MatchGroups    []recon.MatchGroup `json:"match_groups"`
	CreatedBy      string            `json:"created_by"`
}

// Service provides draft persistence operations
type Service struct {
	db *database.DB
}

// NewService creates a new drafts service
func NewService(db *database.DB) *Service {
	return &Service{db: db}
}

// SaveDraft saves or updates the draft for an account
func (s *Service) SaveDraft(req SaveDraftRequest) (*Draft, error) {
	groupsJSON, err := json.Marshal(req.MatchGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match groups: %w", err)
	}

	existing, err := s.GetDraft(req.CompanyID, req.AccountCode)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing draft: %w", err)
	}

	if existing != nil {
		_, err = s.db.Exec(`
			UPDATE reconciliation_drafts
			SET statement_batch = ?, match_groups_json = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			req.StatementBatch, string(groupsJSON), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update draft: %w", err)
		}
		return s.GetByID(existing.ID)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(`
		INSERT INTO reconciliation_drafts (
			id, company_id, account_code, statement_batch,
			match_groups_json, status, created_by
		) VALUES (?, ?, ?, ?, ?, 'draft', ?)`,
		id, req.CompanyID, req.AccountCode, req.StatementBatch,
		string(groupsJSON), req.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	return s.GetByID(id)
}

// GetDraft retrieves the current draft for an account, or nil when none
// exists
func (s *Service) GetDraft(companyID, accountCode string) (*Draft, error) {
	query := `
		SELECT id, company_id, account_code, statement_batch,
			match_groups_json, status, created_by, created_at,
			updated_at, committed_at
		FROM reconciliation_drafts
		WHERE company_id = ? AND account_code = ? AND status = 'draft'
		ORDER BY updated_at DESC
		LIMIT 1`

	draft, err := s.scanDraft(s.db.QueryRow(query, companyID, accountCode))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return draft, err
}

// GetByID retrieves a draft by its id
func (s *Service) GetByID(id string) (*Draft, error) {
	query := `
		SELECT id, company_id, account_code, statement_batch,
			match_groups_json, status, created_by, created_at,
			updated_at, committed_at
		FROM reconciliation_drafts
		WHERE id = ?`

	draft, err := s.scanDraft(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("draft %s not found", id)
	}
	return draft, err
}

// Commit marks a draft as committed after a successful finalize
func (s *Service) Commit(id string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		UPDATE reconciliation_drafts
		SET status = 'committed', committed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'draft'`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("failed to commit draft: %w", err)
	}
	return nil
}

// Delete removes the current draft for an account
func (s *Service) Delete(companyID, accountCode string) error {
	_, err := s.db.Exec(`
		DELETE FROM reconciliation_drafts
		WHERE company_id = ? AND account_code = ? AND status = 'draft'`,
		companyID, accountCode)
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// History retrieves committed reconciliations for an account, most recent
// first
func (s *Service) History(companyID, accountCode string, limit int) ([]*Draft, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, company_id, account_code, statement_batch,
			match_groups_json, status, created_by, created_at,
			updated_at, committed_at
		FROM reconciliation_drafts
		WHERE company_id = ? AND account_code = ? AND status != 'draft'
		ORDER BY committed_at DESC, created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, companyID, accountCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query draft history: %w", err)
	}
	defer rows.Close()

	var result []*Draft
	for rows.Next() {
		draft, err := s.scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		result = append(result, draft)
	}

	return result, rows.Err()
}

// scanDraft scans a row into a Draft
func (s *Service) scanDraft(scanner interface{}) (*Draft, error) {
	var draft Draft
	var groupsJSON string
	var createdBy sql.NullString
	var committedAt sql.NullTime

	var err error
	switch sc := scanner.(type) {
	case *sql.Row:
		err = sc.Scan(
			&draft.ID, &draft.CompanyID, &draft.AccountCode,
			&draft.StatementBatch, &groupsJSON, &draft.Status,
			&createdBy, &draft.CreatedAt, &draft.UpdatedAt, &committedAt,
		)
	case *sql.Rows:
		err = sc.Scan(
			&draft.ID, &draft.CompanyID, &draft.AccountCode,
			&draft.StatementBatch, &groupsJSON, &draft.Status,
			&createdBy, &draft.CreatedAt, &draft.UpdatedAt, &committedAt,
		)
	default:
		return nil, fmt.Errorf("unsupported scanner type")
	}

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan draft: %w", err)
	}

	if createdBy.Valid {
		draft.CreatedBy = createdBy.String
	}
	if committedAt.Valid {
		draft.CommittedAt = &committedAt.Time
	}

	if groupsJSON == "" {
		groupsJSON = "[]"
	}
	if err := json.Unmarshal([]byte(groupsJSON), &draft.MatchGroups); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match groups: %w", err)
	}

	return &draft, nil
}
