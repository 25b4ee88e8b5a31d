package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aprueba/api/internal/auth"
	"aprueba/api/internal/cache"
	"aprueba/api/internal/config"
	"aprueba/api/internal/erp"
	"aprueba/api/internal/observability"
	"aprueba/api/internal/session"
	"aprueba/api/internal/store"
	"aprueba/api/internal/util"
	"aprueba/api/internal/view"
)

const (
	viewIndicators = "indicadores"

	defaultListLimit = 100
)

// Session is the authenticated operator behind a request. ERPToken is the
// upstream bearer credential attached to every backend call; it is never
// returned to the browser.
type Session struct {
	Token     string
	Usuario   string
	Nombre    string
	ERPToken  string
	JTI       string
	ExpiresAt time.Time
}

type erpClient interface {
	Login(ctx context.Context, usuario, password string) (erp.LoginResult, error)
	ListPending(ctx context.Context, token string, kind erp.Kind, skip, limit int) ([]erp.Document, error)
	ListApproved(ctx context.Context, token string, kind erp.Kind, usuario, fechaDesde, fechaHasta string) ([]erp.Document, error)
	Indicators(ctx context.Context, token string, kind erp.Kind) (erp.BackendIndicators, error)
	Approve(ctx context.Context, token string, kind erp.Kind, key erp.Key) (erp.Receipt, error)
	Unapprove(ctx context.Context, token string, kind erp.Kind, key erp.Key) (erp.Receipt, error)
}

type auditStore interface {
	Insert(ctx context.Context, entry store.AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]store.AuditEntry, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	erp      erpClient
	cache    *cache.Cache
	sessions session.Store
	audit    auditStore // nil when no DATABASE_URL is configured
	metrics  *observability.Metrics
	coord    *Coordinator
	log      zerolog.Logger

	viewMu sync.Mutex
	views  map[erp.Kind]*view.Resolver
}

func New(cfg config.Config, erpc erpClient, sessions session.Store, audit auditStore, metrics *observability.Metrics, log zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		erp:      erpc,
		cache:    cache.New(log),
		sessions: sessions,
		audit:    audit,
		metrics:  metrics,
		log:      log.With().Str("component", "app").Logger(),
		views: map[erp.Kind]*view.Resolver{
			erp.KindBudget:        view.NewResolver(),
			erp.KindPurchaseOrder: view.NewResolver(),
		},
	}
	s.coord = NewCoordinator(s.executeCommand, s.onMutationSettled)
	return s
}

// Login exchanges ERP credentials for a local dashboard session. The local
// token's lifetime mirrors the upstream token's, so both expire together.
func (s *Service) Login(ctx context.Context, usuario, password string) (Session, error) {
	result, err := s.erp.Login(ctx, usuario, password)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  result.Usuario,
		Name: result.Nombre,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	if err := s.sessions.Save(ctx, jti, session.Data{
		Usuario:  result.Usuario,
		Nombre:   result.Nombre,
		ERPToken: result.AccessToken,
	}, expiresAt); err != nil {
		return Session{}, err
	}

	s.log.Info().Str("usuario", result.Usuario).Msg("operator logged in")
	return Session{
		Token:     token,
		Usuario:   result.Usuario,
		Nombre:    result.Nombre,
		ERPToken:  result.AccessToken,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	data, err := s.sessions.Lookup(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		Token:     token,
		Usuario:   data.Usuario,
		Nombre:    data.Nombre,
		ERPToken:  data.ERPToken,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the session and drops every cached query: the cache is
// scoped to the operator's credential, not to the process lifetime.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.JTI != "" {
		if err := s.sessions.Revoke(ctx, sess.JTI); err != nil {
			return err
		}
	}
	s.cache.Clear()
	s.viewMu.Lock()
	for _, r := range s.views {
		r.Reset()
	}
	s.viewMu.Unlock()
	return nil
}

// DocumentsResult is one resolved tab read. View echoes the tab the request
// resolved to, so a response for a view the user already left is discarded on
// render instead of flashing into the wrong tab.
type DocumentsResult struct {
	View        view.View      `json:"view"`
	Documents   []erp.Document `json:"documents"`
	CacheStatus cache.Status   `json:"cacheStatus"`
}

// Documents serves the list for a kind's active tab, resolving the tab
// parameter against remembered state and reading through the query cache.
func (s *Service) Documents(ctx context.Context, sess Session, kind erp.Kind, tabParam string, skip, limit int) (DocumentsResult, error) {
	activeView := s.resolver(kind).Resolve(tabParam)
	if limit <= 0 {
		limit = defaultListLimit
	}

	key, loader := s.listQuery(sess, kind, activeView, skip, limit)
	if loader == nil {
		// Approved view with no identity established: empty result, no
		// backend call.
		return DocumentsResult{View: activeView, Documents: []erp.Document{}, CacheStatus: cache.StatusFresh}, nil
	}

	value, status, err := s.cache.Get(ctx, key, loader)
	if err != nil {
		s.countUpstreamFailure(err)
		return DocumentsResult{}, err
	}
	docs, _ := value.([]erp.Document)
	if docs == nil {
		docs = []erp.Document{}
	}
	return DocumentsResult{View: activeView, Documents: docs, CacheStatus: status}, nil
}

// IndicatorsResult is the per-kind summary: the backend's pending aggregate
// plus the approved-today count derived from the same cached list the
// approved tab renders, so the counter can never disagree with the list.
type IndicatorsResult struct {
	Pendientes   int `json:"pendientes"`
	AprobadosHoy int `json:"aprobadosHoy"`
}

func (s *Service) Indicators(ctx context.Context, sess Session, kind erp.Kind) (IndicatorsResult, error) {
	indicatorKey := cache.Key{Kind: string(kind), View: viewIndicators}
	value, _, err := s.cache.Get(ctx, indicatorKey, func(ctx context.Context) (any, error) {
		return s.erp.Indicators(ctx, sess.ERPToken, kind)
	})
	if err != nil {
		s.countUpstreamFailure(err)
		return IndicatorsResult{}, err
	}
	backend, _ := value.(erp.BackendIndicators)

	approvedToday := 0
	if identity := normalizeIdentity(sess.Usuario); identity != "" {
		key, loader := s.approvedQuery(sess, kind, identity)
		listValue, _, err := s.cache.Get(ctx, key, loader)
		if err != nil {
			s.countUpstreamFailure(err)
			return IndicatorsResult{}, err
		}
		if docs, ok := listValue.([]erp.Document); ok {
			approvedToday = len(docs)
		}
	}

	return IndicatorsResult{Pendientes: backend.Pending, AprobadosHoy: approvedToday}, nil
}

// RequestCommand opens the confirmation step for an approve/unapprove intent.
func (s *Service) RequestCommand(kind erp.Kind, key erp.Key, action Action) (Command, error) {
	cmd, err := s.coord.Request(kind, key, action)
	if errors.Is(err, ErrCommandBusy) {
		s.metrics.CommandRejections.Inc()
	}
	return cmd, err
}

func (s *Service) CancelCommand() (Command, error) {
	return s.coord.Cancel()
}

func (s *Service) CurrentCommand() Command {
	return s.coord.Current()
}

// ConfirmCommand executes the pending mutation and records the settled
// outcome in the audit trail.
func (s *Service) ConfirmCommand(ctx context.Context, sess Session) (erp.Receipt, Command, error) {
	pending := s.coord.Current()
	receipt, cmd, err := s.coord.Confirm(ctx, sess)

	outcome := "succeeded"
	detail := receipt.Message
	if err != nil {
		outcome = "failed"
		detail = err.Error()
		s.countUpstreamFailure(err)
	}
	if pending.State == CommandAwaitingConfirmation || pending.State == CommandFailed {
		s.metrics.CommandOutcomes.WithLabelValues(string(pending.Kind), string(pending.Action), outcome).Inc()
		s.recordAudit(ctx, store.AuditEntry{
			Kind:    string(pending.Kind),
			Action:  string(pending.Action),
			LocCod:  pending.Key.LocCod,
			Nro:     pending.Key.Nro,
			Actor:   sess.Usuario,
			Outcome: outcome,
			Detail:  detail,
		})
	}
	return receipt, cmd, err
}

func (s *Service) AuditTrail(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if s.audit == nil {
		return nil, domainError(404, "AUDIT_DISABLED", "Audit trail is not configured", nil)
	}
	return s.audit.ListRecent(ctx, limit)
}

func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{
		"sessions": s.sessions.Ping(ctx),
	}
	if s.audit != nil {
		checks["audit"] = s.audit.Ping(ctx)
	}
	return checks
}

// executeCommand is the coordinator's mutation hook: exactly one upstream
// call per confirm.
func (s *Service) executeCommand(ctx context.Context, sess Session, kind erp.Kind, key erp.Key, action Action) (erp.Receipt, error) {
	if action == ActionUnapprove {
		return s.erp.Unapprove(ctx, sess.ERPToken, kind, key)
	}
	return s.erp.Approve(ctx, sess.ERPToken, kind, key)
}

// onMutationSettled marks every cache entry of the mutated kind stale and
// synchronously refetches the currently visible tab's entry so the UI
// reflects the mutation without a manual refresh. Other entries revalidate
// lazily on their next read. Entries of the other kind are never touched.
func (s *Service) onMutationSettled(ctx context.Context, sess Session, kind erp.Kind) {
	s.cache.InvalidateKind(string(kind))
	s.metrics.CacheInvalidations.WithLabelValues(string(kind)).Inc()

	activeView := s.resolver(kind).Current()
	key, _ := s.listQuery(sess, kind, activeView, 0, defaultListLimit)
	if _, err := s.cache.Refresh(ctx, key); err != nil {
		// The entry stays errored and retries on the next read.
		s.log.Warn().Str("kind", string(kind)).Str("view", string(activeView)).Err(err).Msg("post-mutation refresh failed")
	}
}

// listQuery builds the cache key and loader for a tab read. A nil loader
// means the read must not reach the backend at all.
func (s *Service) listQuery(sess Session, kind erp.Kind, v view.View, skip, limit int) (cache.Key, cache.Loader) {
	if v == view.Approved {
		identity := normalizeIdentity(sess.Usuario)
		if identity == "" {
			return cache.Key{}, nil
		}
		return s.approvedQuery(sess, kind, identity)
	}
	key := cache.Key{Kind: string(kind), View: string(view.Pending)}
	return key, func(ctx context.Context) (any, error) {
		return s.erp.ListPending(ctx, sess.ERPToken, kind, skip, limit)
	}
}

// approvedQuery scopes the approved list to the current identity and the
// current day, re-derived at call time exactly as the original dashboard
// derives it.
func (s *Service) approvedQuery(sess Session, kind erp.Kind, identity string) (cache.Key, cache.Loader) {
	hoy := time.Now().Format("2006-01-02")
	key := cache.Key{
		Kind:     string(kind),
		View:     string(view.Approved),
		Identity: identity,
		DateFrom: hoy,
		DateTo:   hoy,
	}
	return key, func(ctx context.Context) (any, error) {
		return s.erp.ListApproved(ctx, sess.ERPToken, kind, identity, hoy, hoy)
	}
}

func (s *Service) resolver(kind erp.Kind) *view.Resolver {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	r, ok := s.views[kind]
	if !ok {
		r = view.NewResolver()
		s.views[kind] = r
	}
	return r
}

func (s *Service) recordAudit(ctx context.Context, entry store.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.log.Warn().Err(err).Msg("audit insert failed")
	}
}

func (s *Service) countUpstreamFailure(err error) {
	var authErr *erp.AuthError
	var conflictErr *erp.ConflictError
	var transportErr *erp.TransportError
	switch {
	case errors.As(err, &authErr):
		s.metrics.UpstreamFailures.WithLabelValues("auth").Inc()
	case errors.As(err, &conflictErr):
		s.metrics.UpstreamFailures.WithLabelValues("conflict").Inc()
	case errors.As(err, &transportErr):
		s.metrics.UpstreamFailures.WithLabelValues("transport").Inc()
	}
}

func normalizeIdentity(usuario string) string {
	return strings.ToLower(strings.TrimSpace(usuario))
}
