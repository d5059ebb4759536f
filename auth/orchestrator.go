package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/rbac"
	"github.com/a-cube-io/ereceipts-sdk-go/tokenstore"
)

// State is a step in the session lifecycle (spec §4.6):
// unauthenticated → authenticating → authenticated → {refreshing ↔ authenticated} → unauthenticated.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Credentials is the login request body (spec §6: POST .../login).
type Credentials struct {
	Email    string
	Password string
	DeviceID string
}

// LoginResult is the HTTP login endpoint's successful outcome: a compact JWT.
// A failed login is the LoginClient's error: an *errors.SDKError (such as
// InvalidCredentials, PermissionDenied or RateLimited) is returned unchanged,
// and any other error is wrapped as NetworkError.
type LoginResult struct {
	Token string
}

// LoginClient performs the login and (optional) logout HTTP round trips.
type LoginClient interface {
	Login(ctx context.Context, creds Credentials) (LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
}

// SessionControl is the Access Control collaborator's session half: session
// creation is best-effort so headless usage still works (spec §4.6 step 6).
type SessionControl interface {
	CreateSession(ctx context.Context, user User) (sessionID string, err error)
	DestroySession(ctx context.Context, sessionID string) error
}

// User is the composed User Record (spec §3).
type User struct {
	ID            string
	Email         string
	EffectiveRoles []rbac.Role
	PrimaryRole   rbac.Role
	SimpleRole    rbac.Role
	MerchantID    string
	CashierID     string
	PointOfSaleID string
	SessionID     string
	LastLoginAt   time.Time
}

// LogoutOptions controls logout behaviour.
type LogoutOptions struct {
	ClearLocalData *bool // nil/true clears storage; explicit false preserves it
	Reason         string
}

func (o LogoutOptions) clearLocalData() bool {
	return o.ClearLocalData == nil || *o.ClearLocalData
}

// OrchestratorConfig tunes session behaviour.
type OrchestratorConfig struct {
	SessionTimeout time.Duration
}

// Orchestrator drives the login/logout/session-restore state machine (spec
// §4.6), wiring together the Token Manager, Token Store, Permission/Role
// Engine and event bus.
type Orchestrator struct {
	cfg          OrchestratorConfig
	loginClient  LoginClient
	tokens       *TokenManager
	tokenStore   *tokenstore.Store
	rbacEngine   *rbac.Engine
	session      SessionControl
	bus          *events.Bus
	logger       *logging.Logger

	mu    sync.RWMutex
	state State
	user  *User
}

// NewOrchestrator constructs an Orchestrator. session may be nil (headless
// usage: a locally generated session id is kept instead).
func NewOrchestrator(cfg OrchestratorConfig, loginClient LoginClient, tokens *TokenManager, tokenStore *tokenstore.Store, rbacEngine *rbac.Engine, session SessionControl, bus *events.Bus, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		loginClient: loginClient,
		tokens:      tokens,
		tokenStore:  tokenStore,
		rbacEngine:  rbacEngine,
		session:     session,
		bus:         bus,
		logger:      logger,
		state:       StateUnauthenticated,
	}
}

// State returns the current session state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// User returns the current session's composed User Record, or nil.
func (o *Orchestrator) User() *User {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.user
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Login executes spec §4.6's login contract end to end.
func (o *Orchestrator) Login(ctx context.Context, creds Credentials) (*User, error) {
	o.setState(StateAuthenticating)
	o.publish(events.NameLoginStarted, events.LoginStartedEvent{})

	result, err := o.loginClient.Login(ctx, creds)
	if err != nil {
		o.setState(StateUnauthenticated)
		return nil, o.classifyLoginError(err)
	}

	claims, err := ParseClaims(result.Token)
	if err != nil {
		o.setState(StateUnauthenticated)
		return nil, err
	}
	if err := claims.Validate(time.Now()); err != nil {
		o.setState(StateUnauthenticated)
		return nil, err
	}

	roles := toRBACRoles(claims.NormalizedRoles())
	user := User{
		ID:            claims.Subject,
		Email:         claims.Email,
		EffectiveRoles: rbac.Effective(roles),
		PrimaryRole:   rbac.Primary(roles),
		SimpleRole:    roles[0],
		MerchantID:    claims.MerchantID,
		CashierID:     claims.CashierID,
		PointOfSaleID: claims.PointOfSaleID,
		LastLoginAt:   time.Now().UTC(),
	}

	o.tokens.Install(result.Token, "", "Bearer", claims.ExpiresAt)
	if err := o.tokenStore.Store(ctx, tokenstore.Record{
		AccessToken:  result.Token,
		TokenType:    "Bearer",
		ExpiresAt:    claims.ExpiresAt,
		User:         boundUser(user),
		DeviceID:     creds.DeviceID,
	}); err != nil {
		o.setState(StateUnauthenticated)
		return nil, err
	}

	sessionID := o.createSession(ctx, user)
	user.SessionID = sessionID

	o.mu.Lock()
	o.user = &user
	o.state = StateAuthenticated
	o.mu.Unlock()

	o.publish(events.NameLoginSucceeded, events.LoginSucceededEvent{
		UserID:        user.ID,
		Email:         user.Email,
		MerchantID:    user.MerchantID,
		CashierID:     user.CashierID,
		PointOfSaleID: user.PointOfSaleID,
	})
	o.publish(events.NameSessionCreated, events.SessionCreatedEvent{SessionID: sessionID})
	o.preload(ctx, user)

	return &user, nil
}

// boundUser projects the composed User Record down to the subset persisted
// alongside the token triple.
func boundUser(user User) *tokenstore.BoundUser {
	return &tokenstore.BoundUser{
		ID:             user.ID,
		Email:          user.Email,
		EffectiveRoles: user.EffectiveRoles,
		PrimaryRole:    user.PrimaryRole,
		SimpleRole:     user.SimpleRole,
		MerchantID:     user.MerchantID,
		CashierID:      user.CashierID,
		PointOfSaleID:  user.PointOfSaleID,
	}
}

// userFromBound reconstructs a User Record from a persisted BoundUser, for
// session restoration (spec §3's persistence invariant: the bound user must
// survive a process restart without a further login round trip).
func userFromBound(bu *tokenstore.BoundUser, sessionID string) *User {
	if bu == nil {
		return nil
	}
	return &User{
		ID:            bu.ID,
		Email:         bu.Email,
		EffectiveRoles: bu.EffectiveRoles,
		PrimaryRole:   bu.PrimaryRole,
		SimpleRole:    bu.SimpleRole,
		MerchantID:    bu.MerchantID,
		CashierID:     bu.CashierID,
		PointOfSaleID: bu.PointOfSaleID,
		SessionID:     sessionID,
	}
}

func (o *Orchestrator) createSession(ctx context.Context, user User) string {
	if o.session == nil {
		return uuid.NewString()
	}
	sessionID, err := o.session.CreateSession(ctx, user)
	if err != nil {
		if o.logger != nil {
			o.logger.LogAuthEvent(ctx, "session:create_failed", err)
		}
		return uuid.NewString()
	}
	return sessionID
}

func (o *Orchestrator) classifyLoginError(err error) error {
	if sdkErr, ok := sdkerrors.As(err); ok {
		return sdkErr
	}
	return sdkerrors.NetworkError(err)
}

func (o *Orchestrator) preload(ctx context.Context, user User) {
	if o.rbacEngine == nil {
		return
	}
	scope := rbac.ScopeContext{MerchantID: user.MerchantID, CashierID: user.CashierID, PointOfSale: user.PointOfSaleID}
	_ = o.rbacEngine.Preload(ctx, user.ID, user.EffectiveRoles, scope)
}

// Logout tears down the session and clears local auth state (spec §4.6).
func (o *Orchestrator) Logout(ctx context.Context, opts LogoutOptions) error {
	o.publish(events.NameLogout, events.LogoutEvent{Reason: opts.Reason})

	o.mu.RLock()
	user := o.user
	o.mu.RUnlock()

	if user != nil {
		accessToken := o.tokens.AccessToken()
		if o.loginClient != nil {
			_ = o.loginClient.Logout(ctx, accessToken)
		}
		if o.session != nil && user.SessionID != "" {
			_ = o.session.DestroySession(ctx, user.SessionID)
		}
	}

	o.tokens.Clear()
	if opts.clearLocalData() {
		_ = o.tokenStore.Clear(ctx)
	}
	if o.rbacEngine != nil && user != nil {
		o.rbacEngine.ClearUserCaches(user.ID)
	}

	o.mu.Lock()
	o.user = nil
	o.state = StateUnauthenticated
	o.mu.Unlock()

	return nil
}

// RefreshSession proxies to the Token Manager; on failure it performs a
// forced logout with reason token_invalid (spec §4.6).
func (o *Orchestrator) RefreshSession(ctx context.Context) error {
	o.setState(StateRefreshing)
	_, err := o.tokens.Refresh(ctx)
	if err != nil {
		_ = o.Logout(ctx, LogoutOptions{Reason: "token_invalid"})
		return err
	}
	o.setState(StateAuthenticated)
	return nil
}

// RestoreSession re-hydrates the session from the Token Store on startup
// (spec §4.6). If the stored record is expired but carries a refresh token,
// one refresh attempt is made; failure clears storage.
func (o *Orchestrator) RestoreSession(ctx context.Context) error {
	record, ok, err := o.tokenStore.RetrieveRaw(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if time.Now().Before(record.ExpiresAt) {
		o.tokens.Install(record.AccessToken, record.RefreshToken, record.TokenType, record.ExpiresAt)
		o.restoreUser(ctx, record)
		o.setState(StateAuthenticated)
		o.publish(events.NameSessionRestored, events.SessionRestoredEvent{UserID: o.boundUserID(record)})
		return nil
	}

	if record.RefreshToken == "" {
		_ = o.tokenStore.Clear(ctx)
		return nil
	}

	o.tokens.Install(record.AccessToken, record.RefreshToken, record.TokenType, record.ExpiresAt)
	if _, err := o.tokens.Refresh(ctx); err != nil {
		_ = o.tokenStore.Clear(ctx)
		return err
	}
	o.restoreUser(ctx, record)
	o.setState(StateAuthenticated)
	o.publish(events.NameSessionRestored, events.SessionRestoredEvent{UserID: o.boundUserID(record)})
	return nil
}

// restoreUser reconstructs o.user from the persisted record's bound user
// (spec §3) and re-primes the permission/role cache for it, so a restored
// session behaves identically to one freshly logged in.
func (o *Orchestrator) restoreUser(ctx context.Context, record *tokenstore.Record) {
	user := userFromBound(record.User, uuid.NewString())
	if user == nil {
		return
	}
	o.mu.Lock()
	o.user = user
	o.mu.Unlock()
	o.preload(ctx, *user)
}

// boundUserID returns the user id a persisted record is bound to, or "" if
// the record predates the bound-user field.
func (o *Orchestrator) boundUserID(record *tokenstore.Record) string {
	if record.User == nil {
		return ""
	}
	return record.User.ID
}

func (o *Orchestrator) publish(name events.Name, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Topic: events.TopicAuth, Name: name, Payload: payload})
}
