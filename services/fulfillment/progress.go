package fulfillment

import (
	"context"

	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/services/ledger"

	"go.uber.org/zap"
)

// progress advances the pending row. Status never moves backwards; a late
// update with a lower rank still writes its other fields.
type progress struct {
	ledger    Ledger
	sessionID string
	rank      int
	metrics   *metrics.Metrics
	zapLog    *zap.Logger
}

func newProgress(l Ledger, sessionID string, m *metrics.Metrics, zapLog *zap.Logger) *progress {
	return &progress{ledger: l, sessionID: sessionID, metrics: m, zapLog: zapLog}
}

// recorded sets the rank of the row as it was first written.
func (p *progress) recorded(s ledger.Status) {
	if r := s.Rank(); r > p.rank {
		p.rank = r
	}
}

func (p *progress) advance(ctx context.Context, u ledger.StatusUpdate) {
	if u.Status != "" {
		if u.Status.Rank() <= p.rank {
			p.zapLog.Debug("pending status not regressed",
				zap.String("status", string(u.Status)),
				zap.Int("current_rank", p.rank),
			)
			u.Status = ""
		} else {
			p.rank = u.Status.Rank()
		}
	}

	if err := p.ledger.UpdateStatus(ctx, p.sessionID, u); err != nil {
		p.zapLog.Error("pending status update failed",
			zap.String("stage", "ledger_update"),
			zap.String("status", string(u.Status)),
			zap.Error(err),
		)
		if p.metrics != nil {
			p.metrics.StageFailures.WithLabelValues("ledger_update").Inc()
		}
	}
}
