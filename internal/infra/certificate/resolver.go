// Package certificate locates and loads the mutual-TLS client certificate
// the bank requires. Candidate (source, password) pairs are tried in order
// and the first one that loads wins.
package certificate

import (
	"crypto/tls"
	"errors"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
)

// Candidate is one (source, password) attempt.
type Candidate struct {
	Source        Source
	Password      string
	PasswordIndex int
}

// Resolved describes a successfully loaded certificate.
type Resolved struct {
	Certificate   *tls.Certificate
	Source        string
	PasswordIndex int
	Thumbprint    string
	Subject       string
	NotAfter      time.Time
}

// Options describes where to look. Empty fields disable the related source.
type Options struct {
	Thumbprint     string
	PlatformDirs   []string
	Password       string
	KnownPasswords []string
	UserStore      string
	MachineStore   string
	LocalPath      string
	// GOOS overrides runtime.GOOS for the machine-store gate.
	GOOS string
}

// machineStoreSupported reports whether a machine-scoped store directory
// exists as a convention on goos.
func machineStoreSupported(goos string) bool {
	return goos != "windows"
}

// BuildCandidates expands options into the ordered candidate list:
// platform paths keyed by thumbprint, then the user store, then the machine
// store where supported, then the explicit local file.
func BuildCandidates(o Options) []Candidate {
	passwords := dedupe(append([]string{"", o.Password}, o.KnownPasswords...))

	var out []Candidate
	add := func(src Source, pws []string) {
		for i, pw := range pws {
			out = append(out, Candidate{Source: src, Password: pw, PasswordIndex: i})
		}
	}

	if o.Thumbprint != "" {
		for _, dir := range o.PlatformDirs {
			for _, ext := range []string{".p12", ".pfx"} {
				add(FileSource{Path: filepath.Join(dir, o.Thumbprint+ext)}, passwords)
			}
		}
		if o.UserStore != "" {
			add(StoreSource{Scope: "user", Dir: o.UserStore, Thumbprint: o.Thumbprint}, passwords)
		}
		goos := o.GOOS
		if goos == "" {
			goos = runtime.GOOS
		}
		if o.MachineStore != "" && machineStoreSupported(goos) {
			add(StoreSource{Scope: "machine", Dir: o.MachineStore, Thumbprint: o.Thumbprint}, passwords)
		}
	}
	if o.LocalPath != "" {
		add(FileSource{Path: o.LocalPath}, []string{o.Password})
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Resolver folds over candidates until one yields a certificate.
type Resolver struct {
	candidates []Candidate
	thumbprint string
	logger     *zap.Logger
}

// NewResolver creates a resolver over an ordered candidate list.
func NewResolver(candidates []Candidate, thumbprint string, logger *zap.Logger) *Resolver {
	return &Resolver{candidates: candidates, thumbprint: thumbprint, logger: logger}
}

// Resolve returns nil when no candidate loads. Callers must treat that as
// the bank integration being unavailable.
func (r *Resolver) Resolve() *Resolved {
	skipped := make(map[string]bool)
	tried := 0

	for _, c := range r.candidates {
		name := c.Source.Name()
		if skipped[name] {
			continue
		}
		tried++

		cert, err := c.Source.Load(c.Password)
		switch {
		case err == nil:
			res := &Resolved{
				Certificate:   cert,
				Source:        name,
				PasswordIndex: c.PasswordIndex,
				Thumbprint:    Thumbprint(cert),
			}
			if l := leaf(cert); l != nil {
				res.Subject = l.Subject.String()
				res.NotAfter = l.NotAfter
			}
			r.logger.Info("client certificate loaded",
				zap.String("source", name),
				zap.Int("password_index", c.PasswordIndex),
				zap.String("thumbprint", res.Thumbprint),
				zap.String("subject", res.Subject),
				zap.Time("not_after", res.NotAfter),
			)
			if !res.NotAfter.IsZero() && time.Now().After(res.NotAfter) {
				r.logger.Warn("client certificate is expired", zap.Time("not_after", res.NotAfter))
			}
			return res
		case errors.Is(err, ErrWrongPassword):
			r.logger.Debug("certificate password rejected",
				zap.String("source", name),
				zap.Int("password_index", c.PasswordIndex),
			)
		default:
			skipped[name] = true
			r.logger.Debug("certificate source unavailable",
				zap.String("source", name),
				zap.String("reason", err.Error()),
			)
		}
	}

	r.logger.Error("CLIENT CERTIFICATE NOT FOUND: bank integration is disabled",
		zap.String("thumbprint", r.thumbprint),
		zap.Int("candidates", len(r.candidates)),
		zap.Int("attempts", tried),
	)
	return nil
}

// Require is Resolve with the missing case turned into an error.
func (r *Resolver) Require() (*Resolved, error) {
	if res := r.Resolve(); res != nil {
		return res, nil
	}
	return nil, &domain.ErrCertificateNotFound{Thumbprint: r.thumbprint, Tried: len(r.candidates)}
}
