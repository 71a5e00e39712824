package assumptions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/stream"
)

// Repository is the persistence contract the session service depends on.
// Implementations own transactional atomicity of each call; in particular
// UpdatePromptWithSession applies the prompt mutation and the recomputed
// session counters and summary as one atomic unit.
type Repository interface {
	CreateSessionWithPrompts(ctx context.Context, session model.Session, prompts []model.Prompt) error
	GetPromptWithSession(ctx context.Context, promptID uuid.UUID) (model.Prompt, model.Session, error)
	ListPrompts(ctx context.Context, sessionID uuid.UUID) ([]model.Prompt, error)
	GetSessionWithPrompts(ctx context.Context, sessionID uuid.UUID) (model.Session, []model.Prompt, error)
	FindSession(ctx context.Context, sessionID uuid.UUID) (model.Session, error)
	UpdatePromptWithSession(ctx context.Context, prompt model.Prompt, session model.Session) error
	UpdateSessionMetadata(ctx context.Context, session model.Session) error
	CreateProposal(ctx context.Context, proposal model.Proposal) error
	ListProposals(ctx context.Context, sessionID uuid.UUID) ([]model.Proposal, error)
}

// DecisionProvider supplies the document decision snapshot. It may fail or
// return nil; the service tolerates both and proceeds without enforcement.
type DecisionProvider interface {
	GetDecisionSnapshot(ctx context.Context, documentID, sectionID string) (*model.DecisionSnapshot, error)
}

// TemplateRequest identifies the prompt template set for a session.
type TemplateRequest struct {
	SectionID       string
	DocumentID      string
	TemplateVersion string
}

// TemplateProvider supplies the ordered prompt templates a session is built
// from. Templates without an explicit priority default to their index.
type TemplateProvider interface {
	GetPrompts(ctx context.Context, req TemplateRequest) ([]model.PromptTemplate, error)
}

// StreamProvider produces streaming events for a prompt response. Each event
// must carry a sequence obtained from next; the returned channel is closed
// when the provider is done. Provider errors never surface to callers: the
// provider converts them to fallback status events.
type StreamProvider interface {
	GenerateEvents(ctx context.Context, session model.Session, prompt model.Prompt, next func() int64) (<-chan stream.Event, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
