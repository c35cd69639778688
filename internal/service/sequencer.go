// Package service provides the business logic layer (use cases):
// reference minting, boleto issuance (single and batch), reconciliation
// with the bank and the read/cancel operations the HTTP layer exposes.
package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
)

var sequencerTracer = otel.Tracer("service/sequencer")

// SeedReference is returned when nothing usable was persisted yet.
const SeedReference = "FAT000001"

var referencePattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// NextReference increments the numeric suffix of last keeping its prefix
// and zero padding. Anything not shaped <letters><digits> yields the seed.
func NextReference(last string) string {
	m := referencePattern.FindStringSubmatch(last)
	if m == nil {
		return SeedReference
	}
	prefix, digits := m[1], m[2]
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return SeedReference
	}
	return fmt.Sprintf("%s%0*d", prefix, len(digits), n+1)
}

// IdentifierSequencer mints external references from the last persisted
// one. Read-then-compute is racy; callers hold the issuance lock.
type IdentifierSequencer struct {
	store  port.BoletoStore
	logger *zap.Logger
}

// NewIdentifierSequencer creates a sequencer over the boleto store.
func NewIdentifierSequencer(store port.BoletoStore, logger *zap.Logger) *IdentifierSequencer {
	return &IdentifierSequencer{store: store, logger: logger}
}

// Next returns the reference following the most recently persisted one.
func (s *IdentifierSequencer) Next(ctx context.Context) (string, error) {
	ctx, span := sequencerTracer.Start(ctx, "IdentifierSequencer.Next")
	defer span.End()

	last, err := s.store.LatestReference(ctx)
	if err != nil {
		return "", fmt.Errorf("read latest reference: %w", err)
	}
	next := NextReference(last)
	if last != "" && next == SeedReference {
		s.logger.Warn("latest reference has unexpected shape; falling back to seed",
			zap.String("latest", last), zap.String("seed", SeedReference))
	}
	return next, nil
}
