// Package auth enforces the role/ownership permission model and the
// per-client rate limits for the HTTP surface. Every permission check,
// granted or denied, lands in the audit ledger.
package auth

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/audit"
	"github.com/mindmux/mindmux/internal/log"
)

// EnvAuthToken is the fallback token source when the request context
// carries none.
const EnvAuthToken = "MINDMUX_AUTH_TOKEN"

// Role is a principal's access level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Action names a permission-gated operation.
type Action string

const (
	ActionAgentList     Action = "agent:list"
	ActionAgentRead     Action = "agent:read"
	ActionAgentCreate   Action = "agent:create"
	ActionAgentStart    Action = "agent:start"
	ActionAgentDelete   Action = "agent:delete"
	ActionAgentStop     Action = "agent:stop"
	ActionTaskList      Action = "task:list"
	ActionTaskRead      Action = "task:read"
	ActionTaskQueue     Action = "task:queue"
	ActionTaskCancel    Action = "task:cancel"
	ActionSessionLogs   Action = "session:logs"
	ActionSessionAttach Action = "session:attach"
	ActionConfigRead    Action = "config:read"
	ActionConfigWrite   Action = "config:write"
	ActionAuditRead     Action = "audit:read"
	ActionKeyRotate     Action = "key:rotate"
)

// viewerActions are readable by every role.
var viewerActions = []Action{
	ActionAgentList, ActionAgentRead, ActionTaskList, ActionTaskRead,
	ActionSessionLogs, ActionConfigRead,
}

// operatorActions additionally allow mutating the fleet.
var operatorActions = []Action{
	ActionAgentCreate, ActionAgentStart, ActionTaskQueue, ActionTaskCancel,
	ActionSessionAttach,
}

// adminActions are admin-only.
var adminActions = []Action{
	ActionAgentDelete, ActionAgentStop, ActionConfigWrite, ActionAuditRead,
	ActionKeyRotate,
}

// ownershipActions additionally require the caller to own the resource.
// Admin bypasses ownership.
var ownershipActions = map[Action]bool{
	ActionAgentDelete: true,
	ActionAgentStop:   true,
	ActionTaskCancel:  true,
}

var rolePermissions = buildMatrix()

func buildMatrix() map[Role]map[Action]bool {
	matrix := map[Role]map[Action]bool{
		RoleAdmin:    {},
		RoleOperator: {},
		RoleViewer:   {},
	}
	grant := func(role Role, actions []Action) {
		for _, action := range actions {
			matrix[role][action] = true
		}
	}
	grant(RoleViewer, viewerActions)
	grant(RoleOperator, viewerActions)
	grant(RoleOperator, operatorActions)
	grant(RoleAdmin, viewerActions)
	grant(RoleAdmin, operatorActions)
	grant(RoleAdmin, adminActions)
	return matrix
}

// User is an authenticated principal.
type User struct {
	UserID         string
	Role           Role
	OwnedResources []string
}

// Resource identifies the object a permission check targets.
type Resource struct {
	Kind  string
	ID    string
	Owner string
}

// AuthenticationError signals a missing, unknown, or expired token.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// AuthorizationError signals a role or ownership denial.
type AuthorizationError struct {
	UserID string
	Action Action
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q denied %s: %s", e.UserID, e.Action, e.Reason)
}

type contextKey struct{}

// WithToken attaches a bearer token to the request context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKey{}, token)
}

// TokenFromContext returns the token attached to ctx, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(contextKey{}).(string)
	return token, ok && token != ""
}

type tokenRecord struct {
	user      User
	expiresAt time.Time
}

// Service authenticates tokens and authorizes actions against the role
// matrix, auditing every check.
type Service struct {
	ledger *audit.Ledger

	mu     sync.RWMutex
	tokens map[string]tokenRecord
}

// NewService creates a service with an empty token table.
func NewService(ledger *audit.Ledger) *Service {
	return &Service{ledger: ledger, tokens: make(map[string]tokenRecord)}
}

// RegisterToken binds a token to a user. A zero expiry never expires.
func (s *Service) RegisterToken(token string, user User, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = tokenRecord{user: user, expiresAt: expiresAt}
}

// RevokeToken removes a token.
func (s *Service) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Authenticate resolves the caller from the context token, falling back
// to MINDMUX_AUTH_TOKEN. Unknown or expired tokens yield an error and
// an empty user.
func (s *Service) Authenticate(ctx context.Context) (User, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		token = os.Getenv(EnvAuthToken)
	}
	if token == "" {
		return User{}, &AuthenticationError{Reason: "no token provided"}
	}

	s.mu.RLock()
	record, found := s.tokens[token]
	s.mu.RUnlock()

	if !found {
		return User{}, &AuthenticationError{Reason: "unknown token"}
	}
	if !record.expiresAt.IsZero() && time.Now().After(record.expiresAt) {
		return User{}, &AuthenticationError{Reason: "token expired"}
	}
	return record.user, nil
}

// Authorize checks the action against the caller's role and, where the
// action demands it, resource ownership. Exactly one audit entry is
// appended per call.
func (s *Service) Authorize(ctx context.Context, action Action, resource *Resource) (User, error) {
	user, err := s.Authenticate(ctx)
	if err != nil {
		s.record(user, action, resource, false, "unauthenticated")
		return User{}, err
	}

	if !rolePermissions[user.Role][action] {
		s.record(user, action, resource, false, "role denies action")
		return user, &AuthorizationError{UserID: user.UserID, Action: action, Reason: "role denies action"}
	}

	if ownershipActions[action] && user.Role != RoleAdmin {
		if resource == nil || !owns(user, resource) {
			s.record(user, action, resource, false, "not resource owner")
			return user, &AuthorizationError{UserID: user.UserID, Action: action, Reason: "not resource owner"}
		}
	}

	s.record(user, action, resource, true, "")
	return user, nil
}

func owns(user User, resource *Resource) bool {
	if resource.Owner != "" && resource.Owner == user.UserID {
		return true
	}
	for _, id := range user.OwnedResources {
		if id == resource.ID {
			return true
		}
	}
	return false
}

func (s *Service) record(user User, action Action, resource *Resource, granted bool, reason string) {
	entry := audit.Entry{
		UserID:  user.UserID,
		Action:  string(action),
		Granted: granted,
		Reason:  reason,
	}
	if resource != nil {
		entry.Resource = resource.Kind
		entry.ResourceID = resource.ID
	}
	s.ledger.Append(entry)
	if !granted {
		log.Warn(log.CatAuth, "permission denied",
			"user", user.UserID, "action", string(action), "reason", reason)
	}
}
