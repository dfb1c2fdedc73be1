package point

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// sweepPageSize bounds how many batches one sweep query returns. Expired
// batches drop out of the selection, so every page starts from the top.
const sweepPageSize = 500

// ExpireOverdue marks every batch whose expiry date is before ref, and
// that is neither canceled nor already expired, as EXPIRED. A zero ref
// means today. It runs in its own transaction without user locks and is
// idempotent. Wallet balances are left alone.
func (s *Service) ExpireOverdue(ctx context.Context, ref Date) (int, error) {
	ref = ref.or(s.Today())
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "point."+OpExpire)
	defer span.End()
	span.SetAttributes(attribute.String("point.ref_date", ref.String()))

	expired := 0
	err := s.store.WithTx(ctx, func(st Store) error {
		expired = 0
		now := s.clock()
		for {
			page, err := st.OverdueEarns(ctx, ref, sweepPageSize)
			if err != nil {
				return err
			}
			for i := range page {
				page[i].Expire()
				page[i].UpdatedAt = now
			}
			if len(page) > 0 {
				if err := st.SaveEarns(ctx, page...); err != nil {
					return err
				}
			}
			expired += len(page)
			if len(page) < sweepPageSize {
				return nil
			}
		}
	})

	s.recorder.ObserveOperation(OpExpire, CodeOf(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Str("ref_date", ref.String()).Msg("expiration sweep rolled back")
		return 0, err
	}

	s.recorder.AddExpired(expired)
	span.SetAttributes(attribute.Int("point.expired", expired))
	s.log.Info().Str("ref_date", ref.String()).Int("expired", expired).Msg("expiration sweep")
	return expired, nil
}
