package engine

import (
	"context"
	"log/slog"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/storage"
)

// payoutJournal is the reserve-asset mover behind every treasury withdrawal:
// it durably queues an instruction for the custodian. The write failing fails
// the withdrawal, so no balance ever drops without a matching instruction.
type payoutJournal struct {
	store  *storage.Storage
	logger *slog.Logger
}

func (p payoutJournal) TransferReserve(to ethcommon.Address, amount *big.Int, reason string) error {
	err := p.store.RecordPayoutInstruction(context.Background(), to, amount, reason)
	if err != nil {
		p.logger.Error("mintd: queue payout instruction", "error", err, "recipient", to.Hex())
	}
	return err
}

// PayoutInstructions lists the newest custodian orders first.
func (s *Service) PayoutInstructions(ctx context.Context, limit int) ([]storage.PayoutInstruction, error) {
	return s.store.RecentPayoutInstructions(ctx, limit)
}

// ReportPegDeviation records the observed deviation below peg in bps. The
// redemption surcharge reads the latest report; guardian capability required.
func (s *Service) ReportPegDeviation(ctx context.Context, caller ethcommon.Address, bps uint64) error {
	return s.observe(ctx, "report_peg_deviation", []attribute.KeyValue{
		attribute.Int64("deviation_bps", int64(bps)),
	}, func(ctx context.Context) error {
		if err := s.grants.Require(caller, access.CapGuardian); err != nil {
			return err
		}
		s.pegDeviation.Store(bps)
		return nil
	})
}

// PegDeviation returns the last reported deviation below peg in bps. Satisfies
// the redemption queue's peg source contract.
func (s *Service) PegDeviation() uint64 {
	return s.pegDeviation.Load()
}
