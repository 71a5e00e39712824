package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// CreateProposal inserts an immutable draft proposal. The unique constraint
// on (session_id, proposal_index) rejects index races between concurrent
// writers.
func (db *DB) CreateProposal(ctx context.Context, p model.Proposal) error {
	rationale, err := json.Marshal(p.Rationale)
	if err != nil {
		return fmt.Errorf("storage: marshal rationale: %w", err)
	}
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO draft_proposals (id, session_id, proposal_index, source,
		     content_markdown, rationale, ai_confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.SessionID, p.ProposalIndex, string(p.Source),
		p.ContentMarkdown, rationale, p.AIConfidence, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert proposal: %w", err)
	}
	return nil
}

// ListProposals returns a session's proposals ordered by proposal index.
func (db *DB) ListProposals(ctx context.Context, sessionID uuid.UUID) ([]model.Proposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, proposal_index, source, content_markdown, rationale, ai_confidence, created_at
		 FROM draft_proposals WHERE session_id = $1 ORDER BY proposal_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		var p model.Proposal
		var source string
		var rationale []byte
		if err := rows.Scan(
			&p.ID, &p.SessionID, &p.ProposalIndex, &source,
			&p.ContentMarkdown, &rationale, &p.AIConfidence, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan proposal: %w", err)
		}
		p.Source = model.ProposalSource(source)
		if len(rationale) > 0 {
			if err := json.Unmarshal(rationale, &p.Rationale); err != nil {
				return nil, fmt.Errorf("storage: unmarshal rationale: %w", err)
			}
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}
