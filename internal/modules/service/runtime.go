package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/infra/httpclient"
	"github.com/memodb-io/deploy-platform/internal/metrics"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"go.uber.org/zap"
)

const (
	ModeAuthenticated = "authenticated"
	ModeAnonymous     = "anonymous"
)

type RuntimeService interface {
	Execute(ctx context.Context, in RuntimeQueryInput) (*RuntimeQueryOutput, error)
}

type runtimeService struct {
	resolver  ResolverService
	databases DatabaseService
	pipeline  PipelineExecutor
	log       *zap.Logger
}

func NewRuntimeService(resolver ResolverService, databases DatabaseService, pipeline PipelineExecutor, log *zap.Logger) RuntimeService {
	return &runtimeService{
		resolver:  resolver,
		databases: databases,
		pipeline:  pipeline,
		log:       log,
	}
}

// RuntimeQueryInput describes one query. A non-empty UserID selects the
// authenticated path; otherwise the tenant comes from OriginHost, falling
// back to RefererHost.
type RuntimeQueryInput struct {
	SQL         string
	Params      []any
	SiteRef     string
	UserID      string
	OriginHost  string
	RefererHost string
}

type RuntimeQueryOutput struct {
	SiteID   uuid.UUID `json:"site_id"`
	Hostname string    `json:"hostname"`
	Result   any       `json:"result"`
}

// ValidateSingleStatement strips one trailing semicolon and rejects any
// statement that still contains one.
func ValidateSingleStatement(sql string) (string, error) {
	s := strings.TrimSpace(sql)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" {
		return "", apperr.Validation("sql is required")
	}
	if strings.Contains(s, ";") {
		return "", apperr.Validation("sql must be a single statement")
	}
	return s, nil
}

func (s *runtimeService) Execute(ctx context.Context, in RuntimeQueryInput) (*RuntimeQueryOutput, error) {
	mode := ModeAnonymous
	if in.UserID != "" {
		mode = ModeAuthenticated
	}

	out, err := s.execute(ctx, mode, in)
	outcome := "ok"
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	metrics.RuntimeQueriesTotal.WithLabelValues(mode, outcome).Inc()
	return out, err
}

func (s *runtimeService) execute(ctx context.Context, mode string, in RuntimeQueryInput) (*RuntimeQueryOutput, error) {
	sql, err := ValidateSingleStatement(in.SQL)
	if err != nil {
		return nil, err
	}
	args, err := httpclient.EncodeArgs(in.Params)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	var (
		siteID   uuid.UUID
		hostname string
		dbHost   string
		token    string
	)

	if mode == ModeAuthenticated {
		ref := in.SiteRef
		if strings.TrimSpace(ref) == "" {
			ref = "default"
		}
		rs, err := s.resolver.Resolve(ctx, in.UserID, ref)
		if err != nil {
			return nil, err
		}
		creds, err := s.databases.Credentials(ctx, rs.Site.ID, in.UserID)
		if err != nil {
			return nil, err
		}
		siteID, hostname = rs.Site.ID, rs.Hostname()
		dbHost, token = creds.Hostname, creds.RWToken
	} else {
		host := in.OriginHost
		if host == "" {
			host = in.RefererHost
		}
		rs, err := s.resolver.ResolveHostname(ctx, host)
		if err != nil {
			return nil, err
		}
		creds, err := s.databases.RuntimeCredentials(ctx, rs.Site.ID)
		if err != nil {
			return nil, err
		}
		siteID, hostname = rs.Site.ID, rs.Hostname()
		dbHost, token = creds.Hostname, creds.RWToken
	}

	res, err := s.pipeline.Execute(ctx, dbHost, token, httpclient.Statement{SQL: sql, Args: args})
	if err != nil {
		s.log.Error("runtime query failed",
			zap.String("mode", mode),
			zap.String("site_id", siteID.String()),
			zap.Error(err))
		return nil, apperr.Upstream("runtime query failed", err)
	}
	return &RuntimeQueryOutput{SiteID: siteID, Hostname: hostname, Result: res}, nil
}
