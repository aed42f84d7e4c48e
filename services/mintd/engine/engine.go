package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rikitrader/secure-mint-engine-sub001/core/events"
	"github.com/rikitrader/secure-mint-engine-sub001/native/access"
	"github.com/rikitrader/secure-mint-engine-sub001/native/oracle"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/policy"
	"github.com/rikitrader/secure-mint-engine-sub001/native/redemption"
	"github.com/rikitrader/secure-mint-engine-sub001/native/treasury"
	"github.com/rikitrader/secure-mint-engine-sub001/observability"
	otelwrap "github.com/rikitrader/secure-mint-engine-sub001/observability/otel"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/archive"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/storage"
)

// Ledger is the external supply authority the service settles against.
type Ledger interface {
	Mint(to ethcommon.Address, amount *big.Int) error
	Burn(from ethcommon.Address, amount *big.Int) error
	TotalSupply() (*big.Int, error)
	BalanceOf(addr ethcommon.Address) (*big.Int, error)
}

// Deps bundles the constructed components the service orchestrates.
type Deps struct {
	Oracle   *oracle.Consensus
	Pauses   *pause.Controller
	Policy   *policy.Engine
	Treasury *treasury.Manager
	Queue    *redemption.Queue
	Ledger   Ledger
	Grants   *access.Grants
	Store    *storage.Storage
	Archive  *archive.Archive
	Logger   *slog.Logger
}

// Service is the high level facade the HTTP layer drives. Native components
// own their invariants; the service adds tracing, metrics, the durable event
// journal and cross-component reads.
type Service struct {
	oracle   *oracle.Consensus
	pauses   *pause.Controller
	policy   *policy.Engine
	treasury *treasury.Manager
	queue    *redemption.Queue
	ledger   Ledger
	grants   *access.Grants
	store    *storage.Storage
	archive  *archive.Archive

	metrics      *observability.EngineMetrics
	gauges       *observability.ReserveMetrics
	tracer       trace.Tracer
	clock        func() time.Time
	logger       *slog.Logger
	pegDeviation atomic.Uint64
}

// New wires the facade and installs the shared event pipeline (metrics
// counter, durable journal, optional archive) into every component.
func New(deps Deps) (*Service, error) {
	if deps.Oracle == nil || deps.Pauses == nil || deps.Policy == nil || deps.Treasury == nil || deps.Queue == nil {
		return nil, fmt.Errorf("mintd: all core components must be supplied")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("mintd: ledger must be supplied")
	}
	if deps.Grants == nil {
		return nil, fmt.Errorf("mintd: grants must be supplied")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("mintd: storage must be supplied")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		oracle:   deps.Oracle,
		pauses:   deps.Pauses,
		policy:   deps.Policy,
		treasury: deps.Treasury,
		queue:    deps.Queue,
		ledger:   deps.Ledger,
		grants:   deps.Grants,
		store:    deps.Store,
		archive:  deps.Archive,
		metrics:  observability.Engine(),
		gauges:   observability.Reserves(),
		tracer:   otelwrap.Tracer("mintd"),
		clock:    time.Now,
		logger:   logger,
	}
	emitter := observability.MetricsEmitter{Next: journalEmitter{
		store:   deps.Store,
		archive: deps.Archive,
		logger:  logger,
	}}
	deps.Oracle.SetEmitter(emitter)
	deps.Pauses.SetEmitter(emitter)
	deps.Policy.SetEmitter(emitter)
	deps.Treasury.SetEmitter(emitter)
	deps.Queue.SetEmitter(emitter)
	deps.Treasury.SetTransfer(payoutJournal{store: deps.Store, logger: logger})
	return svc, nil
}

// WithClock overrides the service clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s == nil || clock == nil {
		return
	}
	s.clock = clock
}

// journalEmitter appends every domain event to the sqlite journal and, when
// configured, the Postgres archive. Persistence failures are logged, never
// allowed to unwind the in-memory state transition that already happened.
type journalEmitter struct {
	store   *storage.Storage
	archive *archive.Archive
	logger  *slog.Logger
}

func (j journalEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	ctx := context.Background()
	attrs := evt.Attributes()
	if err := j.store.RecordEvent(ctx, evt.EventType(), attrs); err != nil {
		j.logger.Error("mintd: journal event", "error", err, "type", evt.EventType())
	}
	if j.archive != nil {
		if err := j.archive.Append(ctx, evt.EventType(), attrs); err != nil {
			j.logger.Error("mintd: archive event", "error", err, "type", evt.EventType())
		}
	}
}

// observe wraps one operation in a span plus outcome metrics.
func (s *Service) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "mintd."+op, trace.WithAttributes(attrs...))
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	s.metrics.Observe(op, s.clock().Sub(start), err)
	return err
}

// SubmitAttestation records a backing report with the oracle and mirrors it
// into the audit store.
func (s *Service) SubmitAttestation(ctx context.Context, attestor ethcommon.Address, backing *big.Int, proof []byte) error {
	return s.observe(ctx, "submit_attestation", []attribute.KeyValue{
		attribute.String("attestor", attestor.Hex()),
	}, func(ctx context.Context) error {
		if err := s.oracle.SubmitAttestation(attestor, backing, proof); err != nil {
			return err
		}
		for _, att := range s.oracle.Attestations() {
			if att.Attestor != attestor {
				continue
			}
			if err := s.store.RecordAttestation(ctx, att.Attestor, att.Backing, att.ProofDigest, att.SubmittedAt); err != nil {
				s.logger.Error("mintd: persist attestation", "error", err, "attestor", attestor.Hex())
			}
		}
		s.refreshGauges()
		return nil
	})
}

// Mint drives the policy engine and refreshes the solvency gauges.
func (s *Service) Mint(ctx context.Context, caller, recipient ethcommon.Address, amount *big.Int) error {
	return s.observe(ctx, "mint", []attribute.KeyValue{
		attribute.String("recipient", recipient.Hex()),
	}, func(ctx context.Context) error {
		err := s.policy.Mint(caller, recipient, amount)
		s.refreshGauges()
		return err
	})
}

// ValidateMintBatch pre-flights a batch without settling anything.
func (s *Service) ValidateMintBatch(ctx context.Context, requests []policy.MintRequest) []error {
	var results []error
	_ = s.observe(ctx, "validate_mint_batch", []attribute.KeyValue{
		attribute.Int("batch_size", len(requests)),
	}, func(ctx context.Context) error {
		results = s.policy.ValidateMintBatch(requests)
		return nil
	})
	return results
}

// RequestRedemption queues a redemption and mirrors the request durably.
func (s *Service) RequestRedemption(ctx context.Context, holder ethcommon.Address, amount *big.Int) (redemption.Request, error) {
	var request redemption.Request
	err := s.observe(ctx, "request_redemption", []attribute.KeyValue{
		attribute.String("holder", holder.Hex()),
	}, func(ctx context.Context) error {
		var err error
		request, err = s.queue.Request(holder, amount)
		if err != nil {
			return err
		}
		if err := s.store.UpsertRedemption(ctx, holder, request.Amount, request.RequestedAt, request.UnlockTime); err != nil {
			s.logger.Error("mintd: persist redemption", "error", err, "holder", holder.Hex())
		}
		s.persistDailyUsage(ctx, request.RequestedAt)
		s.refreshGauges()
		return nil
	})
	return request, err
}

// ExecuteRedemption settles a matured redemption.
func (s *Service) ExecuteRedemption(ctx context.Context, holder ethcommon.Address) (redemption.Output, error) {
	var output redemption.Output
	err := s.observe(ctx, "execute_redemption", []attribute.KeyValue{
		attribute.String("holder", holder.Hex()),
	}, func(ctx context.Context) error {
		var err error
		output, err = s.queue.Execute(holder)
		if err != nil {
			return err
		}
		if err := s.store.DeleteRedemption(ctx, holder); err != nil {
			s.logger.Error("mintd: clear redemption", "error", err, "holder", holder.Hex())
		}
		s.refreshGauges()
		return nil
	})
	return output, err
}

// CancelRedemption returns a queued holder's tokens.
func (s *Service) CancelRedemption(ctx context.Context, holder ethcommon.Address) error {
	return s.observe(ctx, "cancel_redemption", []attribute.KeyValue{
		attribute.String("holder", holder.Hex()),
	}, func(ctx context.Context) error {
		if err := s.queue.Cancel(holder); err != nil {
			return err
		}
		if err := s.store.DeleteRedemption(ctx, holder); err != nil {
			s.logger.Error("mintd: clear redemption", "error", err, "holder", holder.Hex())
		}
		s.refreshGauges()
		return nil
	})
}

// RedemptionOutput previews the settlement breakdown for an amount.
func (s *Service) RedemptionOutput(amount *big.Int) (redemption.Output, error) {
	return s.queue.Output(amount)
}

// Deposit credits one treasury tier.
func (s *Service) Deposit(ctx context.Context, caller ethcommon.Address, tier treasury.Tier, amount *big.Int) error {
	return s.observe(ctx, "treasury_deposit", []attribute.KeyValue{
		attribute.String("tier", tier.String()),
	}, func(ctx context.Context) error {
		err := s.treasury.Deposit(caller, tier, amount)
		s.refreshGauges()
		return err
	})
}

// DepositDistributed splits a deposit pro-rata across tiers.
func (s *Service) DepositDistributed(ctx context.Context, caller ethcommon.Address, amount *big.Int) error {
	return s.observe(ctx, "treasury_deposit_distributed", nil, func(ctx context.Context) error {
		err := s.treasury.DepositDistributed(caller, amount)
		s.refreshGauges()
		return err
	})
}

// Withdraw debits one treasury tier.
func (s *Service) Withdraw(ctx context.Context, caller, to ethcommon.Address, tier treasury.Tier, amount *big.Int, reason string) error {
	return s.observe(ctx, "treasury_withdraw", []attribute.KeyValue{
		attribute.String("tier", tier.String()),
	}, func(ctx context.Context) error {
		err := s.treasury.Withdraw(caller, to, tier, amount, reason)
		s.refreshGauges()
		return err
	})
}

// TransferBetweenTiers moves reserves internally.
func (s *Service) TransferBetweenTiers(ctx context.Context, caller ethcommon.Address, from, to treasury.Tier, amount *big.Int) error {
	return s.observe(ctx, "treasury_transfer", []attribute.KeyValue{
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	}, func(ctx context.Context) error {
		err := s.treasury.TransferBetweenTiers(caller, from, to, amount)
		s.refreshGauges()
		return err
	})
}

// Rebalance reconciles tier balances toward targets.
func (s *Service) Rebalance(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "treasury_rebalance", nil, func(ctx context.Context) error {
		err := s.treasury.Rebalance(caller)
		s.refreshGauges()
		return err
	})
}

// EmergencyWithdraw drains reserves across tiers in index order.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller, to ethcommon.Address, amount *big.Int, reason string) error {
	return s.observe(ctx, "treasury_emergency_withdraw", nil, func(ctx context.Context) error {
		err := s.treasury.EmergencyWithdraw(caller, to, amount, reason)
		s.refreshGauges()
		return err
	})
}

// Escalate raises the pause level.
func (s *Service) Escalate(ctx context.Context, caller ethcommon.Address, to pause.Level, reason string) error {
	return s.observe(ctx, "pause_escalate", []attribute.KeyValue{
		attribute.Int("level", int(to)),
	}, func(ctx context.Context) error {
		err := s.pauses.Escalate(caller, to, pause.TriggerManual, reason)
		s.refreshGauges()
		return err
	})
}

// Resume lowers the pause level.
func (s *Service) Resume(ctx context.Context, caller ethcommon.Address, to pause.Level, reason string) error {
	return s.observe(ctx, "pause_resume", []attribute.KeyValue{
		attribute.Int("level", int(to)),
	}, func(ctx context.Context) error {
		err := s.pauses.Resume(caller, to, reason)
		s.refreshGauges()
		return err
	})
}

// ProposeEpochCap stages an epoch cap change.
func (s *Service) ProposeEpochCap(ctx context.Context, caller ethcommon.Address, newCap *big.Int) error {
	return s.observe(ctx, "propose_epoch_cap", nil, func(ctx context.Context) error {
		return s.policy.ProposeEpochCap(caller, newCap)
	})
}

// ExecuteEpochCap applies a matured epoch cap change.
func (s *Service) ExecuteEpochCap(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "execute_epoch_cap", nil, func(ctx context.Context) error {
		return s.policy.ExecuteEpochCap(caller)
	})
}

// CancelEpochCap discards a pending epoch cap change.
func (s *Service) CancelEpochCap(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "cancel_epoch_cap", nil, func(ctx context.Context) error {
		return s.policy.CancelEpochCap(caller)
	})
}

// ProposeMaxOracleAge stages a staleness threshold change.
func (s *Service) ProposeMaxOracleAge(ctx context.Context, caller ethcommon.Address, maxAge time.Duration) error {
	return s.observe(ctx, "propose_oracle_age", nil, func(ctx context.Context) error {
		return s.policy.ProposeMaxOracleAge(caller, maxAge)
	})
}

// ExecuteMaxOracleAge applies a matured staleness threshold change.
func (s *Service) ExecuteMaxOracleAge(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "execute_oracle_age", nil, func(ctx context.Context) error {
		return s.policy.ExecuteMaxOracleAge(caller)
	})
}

// CancelMaxOracleAge discards a pending staleness threshold change.
func (s *Service) CancelMaxOracleAge(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "cancel_oracle_age", nil, func(ctx context.Context) error {
		return s.policy.CancelMaxOracleAge(caller)
	})
}

// ProposeAllocation stages a treasury allocation change.
func (s *Service) ProposeAllocation(ctx context.Context, caller ethcommon.Address, allocation treasury.Allocation) error {
	return s.observe(ctx, "propose_allocation", nil, func(ctx context.Context) error {
		return s.treasury.ProposeAllocation(caller, allocation)
	})
}

// ExecuteAllocation applies a matured treasury allocation change.
func (s *Service) ExecuteAllocation(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "execute_allocation", nil, func(ctx context.Context) error {
		_, err := s.treasury.ExecuteAllocation(caller)
		s.refreshGauges()
		return err
	})
}

// CancelAllocation discards a pending treasury allocation change.
func (s *Service) CancelAllocation(ctx context.Context, caller ethcommon.Address) error {
	return s.observe(ctx, "cancel_allocation", nil, func(ctx context.Context) error {
		return s.treasury.CancelAllocation(caller)
	})
}

// TreasuryAttestationCSV renders the auditor-facing reserve export.
func (s *Service) TreasuryAttestationCSV() string {
	return s.treasury.AttestationCSV()
}

// refreshGauges pushes a consistent snapshot of the solvency surface into the
// Prometheus gauges after every state-changing operation.
func (s *Service) refreshGauges() {
	s.gauges.SetPauseLevel(int(s.pauses.Level()))
	if backing, err := s.oracle.VerifiedBacking(); err == nil {
		s.gauges.SetBacking(backing)
	} else {
		s.gauges.SetBacking(nil)
	}
	if supply, err := s.ledger.TotalSupply(); err == nil {
		s.gauges.SetSupply(supply)
	}
	s.gauges.SetEpoch(s.policy.EpochMinted(), s.policy.RemainingEpochMint())
	snap := s.treasury.Snapshot()
	for i, balance := range snap.Balances {
		s.gauges.SetTier(treasury.Tier(i).String(), balance)
	}
	s.gauges.SetTotalReserves(snap.TotalReserves)
	s.gauges.SetDailyRedeemed(s.queue.DailyUsed())
}

func (s *Service) persistDailyUsage(ctx context.Context, at time.Time) {
	day := at.UTC().Format("2006-01-02")
	if err := s.store.RecordDailyUsage(ctx, day, s.queue.DailyUsed()); err != nil {
		s.logger.Error("mintd: persist daily usage", "error", err, "day", day)
	}
}
