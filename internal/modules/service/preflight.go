package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const preflightTimeout = 5 * time.Second

// CheckFunc probes one external dependency.
type CheckFunc func(ctx context.Context) error

type PreflightService interface {
	Check(ctx context.Context) *PreflightReport
}

type PreflightChecks struct {
	Database   bool     `json:"database"`
	R2         bool     `json:"r2"`
	TursoToken bool     `json:"turso_token"`
	MissingEnv []string `json:"missing_env"`
}

type PreflightReport struct {
	OK     bool            `json:"ok"`
	Checks PreflightChecks `json:"checks"`
}

type preflightService struct {
	database   CheckFunc
	r2         CheckFunc
	turso      CheckFunc
	missingEnv func() []string
	log        *zap.Logger
}

// NewPreflightService takes one probe per dependency. A nil probe fails.
func NewPreflightService(database, r2, turso CheckFunc, missingEnv func() []string, log *zap.Logger) PreflightService {
	return &preflightService{
		database:   database,
		r2:         r2,
		turso:      turso,
		missingEnv: missingEnv,
		log:        log,
	}
}

func (s *preflightService) Check(ctx context.Context) *PreflightReport {
	probes := []struct {
		name string
		fn   CheckFunc
		ok   *bool
	}{
		{"database", s.database, new(bool)},
		{"r2", s.r2, new(bool)},
		{"turso_token", s.turso, new(bool)},
	}

	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.fn == nil {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, preflightTimeout)
			defer cancel()
			if err := p.fn(cctx); err != nil {
				s.log.Warn("preflight check failed", zap.String("check", p.name), zap.Error(err))
				return
			}
			*p.ok = true
		}()
	}
	wg.Wait()

	missing := []string{}
	if s.missingEnv != nil {
		missing = append(missing, s.missingEnv()...)
	}

	checks := PreflightChecks{
		Database:   *probes[0].ok,
		R2:         *probes[1].ok,
		TursoToken: *probes[2].ok,
		MissingEnv: missing,
	}
	return &PreflightReport{
		OK:     checks.Database && checks.R2 && checks.TursoToken && len(missing) == 0,
		Checks: checks,
	}
}
