package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/policy"
	"github.com/rikitrader/secure-mint-engine-sub001/native/treasury"
)

var errBadRequest = errors.New("mintd: bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func parseAddress(field, value string) (ethcommon.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !ethcommon.IsHexAddress(trimmed) {
		return ethcommon.Address{}, badRequest("%s must be a hex address", field)
	}
	return ethcommon.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, badRequest("%s must be a base-10 integer", field)
	}
	return amount, nil
}

func (s *Server) decode(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return badRequest("invalid payload: %v", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleInvariants(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.CheckInvariants(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	code := http.StatusOK
	if !report.Healthy() {
		code = http.StatusConflict
	}
	s.writeJSON(w, code, report)
}

func (s *Server) handleAttestationCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(s.svc.TreasuryAttestationCSV())); err != nil {
		s.logger.Error("mintd: write csv", "error", err)
	}
}

func (s *Server) handlePayoutInstructions(w http.ResponseWriter, r *http.Request) {
	instructions, err := s.svc.PayoutInstructions(r.Context(), 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type payout struct {
		ID         int64  `json:"id"`
		To         string `json:"to"`
		Amount     string `json:"amount"`
		Reason     string `json:"reason"`
		RecordedAt string `json:"recordedAt"`
	}
	payouts := make([]payout, len(instructions))
	for i, instruction := range instructions {
		payouts[i] = payout{
			ID:         instruction.ID,
			To:         instruction.To,
			Amount:     instruction.Amount.String(),
			Reason:     instruction.Reason,
			RecordedAt: instruction.RecordedAt.UTC().Format(time.RFC3339),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": payouts})
}

func (s *Server) handleReportPegDeviation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		DeviationBps uint64 `json:"deviationBps"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.ReportPegDeviation(r.Context(), caller, req.DeviationBps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recorded", "deviationBps": req.DeviationBps})
}

func (s *Server) handleSubmitAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Attestor string `json:"attestor"`
		Backing  string `json:"backing"`
		Proof    string `json:"proof"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	attestor, err := parseAddress("attestor", req.Attestor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	backing, err := parseAmount("backing", req.Backing)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		s.writeError(w, badRequest("proof must be base64"))
		return
	}
	if err := s.svc.SubmitAttestation(r.Context(), attestor, backing, proof); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Mint(r.Context(), caller, recipient, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

func (s *Server) handleValidateMintBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []struct {
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
		} `json:"requests"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	batch := make([]policy.MintRequest, 0, len(req.Requests))
	for i, entry := range req.Requests {
		recipient, err := parseAddress(fmt.Sprintf("requests[%d].recipient", i), entry.Recipient)
		if err != nil {
			s.writeError(w, err)
			return
		}
		amount, err := parseAmount(fmt.Sprintf("requests[%d].amount", i), entry.Amount)
		if err != nil {
			s.writeError(w, err)
			return
		}
		batch = append(batch, policy.MintRequest{Recipient: recipient, Amount: amount})
	}
	results := s.svc.ValidateMintBatch(r.Context(), batch)
	type verdict struct {
		Index int    `json:"index"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	verdicts := make([]verdict, len(results))
	for i, result := range results {
		verdicts[i] = verdict{Index: i, OK: result == nil}
		if result != nil {
			verdicts[i].Error = result.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": verdicts})
}

func (s *Server) handleRequestRedemption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Amount string `json:"amount"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	request, err := s.svc.RequestRedemption(r.Context(), holder, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"holder":      request.Holder.Hex(),
		"amount":      request.Amount.String(),
		"requestedAt": request.RequestedAt.UTC().Format(time.RFC3339),
		"unlockTime":  request.UnlockTime.UTC().Format(time.RFC3339),
	})
}

func (s *Server) holderParam(r *http.Request) (ethcommon.Address, error) {
	return parseAddress("holder", chi.URLParam(r, "holder"))
}

func (s *Server) handleExecuteRedemption(w http.ResponseWriter, r *http.Request) {
	holder, err := s.holderParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	output, err := s.svc.ExecuteRedemption(r.Context(), holder)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"tokenAmount": output.TokenAmount.String(),
		"fee":         output.Fee.String(),
		"surcharge":   output.Surcharge.String(),
		"payout":      output.Payout.String(),
	})
}

func (s *Server) handleCancelRedemption(w http.ResponseWriter, r *http.Request) {
	holder, err := s.holderParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.CancelRedemption(r.Context(), holder); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleTreasuryDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller      string `json:"caller"`
		Tier        string `json:"tier"`
		Amount      string `json:"amount"`
		Distributed bool   `json:"distributed"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Distributed {
		err = s.svc.DepositDistributed(r.Context(), caller, amount)
	} else {
		var tier treasury.Tier
		tier, err = treasury.ParseTier(req.Tier)
		if err == nil {
			err = s.svc.Deposit(r.Context(), caller, tier, amount)
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (s *Server) handleTreasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
		Tier   string `json:"tier"`
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tier, err := treasury.ParseTier(req.Tier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Withdraw(r.Context(), caller, to, tier, amount, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleTreasuryTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	from, err := treasury.ParseTier(req.From)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := treasury.ParseTier(req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.TransferBetweenTiers(r.Context(), caller, from, to, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleTreasuryRebalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Rebalance(r.Context(), caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebalanced"})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
		Amount string `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.EmergencyWithdraw(r.Context(), caller, to, amount, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	caller, level, reason, err := s.decodePauseChange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Escalate(r.Context(), caller, level, reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "escalated", "level": int(level)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, level, reason, err := s.decodePauseChange(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Resume(r.Context(), caller, level, reason); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "resumed", "level": int(level)})
}

func (s *Server) decodePauseChange(r *http.Request) (ethcommon.Address, pause.Level, string, error) {
	var req struct {
		Caller string `json:"caller"`
		Level  int    `json:"level"`
		Reason string `json:"reason"`
	}
	if err := s.decode(r, &req); err != nil {
		return ethcommon.Address{}, 0, "", err
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		return ethcommon.Address{}, 0, "", err
	}
	return caller, pause.Level(req.Level), req.Reason, nil
}

const (
	paramEpochCap   = "epoch-cap"
	paramOracleAge  = "oracle-age"
	paramAllocation = "allocation"
)

func (s *Server) handleProposeChange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller        string   `json:"caller"`
		Value         string   `json:"value,omitempty"`
		AllocationBps []uint64 `json:"allocationBps,omitempty"`
	}
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch chi.URLParam(r, "param") {
	case paramEpochCap:
		newCap, err := parseAmount("value", req.Value)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.svc.ProposeEpochCap(r.Context(), caller, newCap); err != nil {
			s.writeError(w, err)
			return
		}
	case paramOracleAge:
		age, err := time.ParseDuration(strings.TrimSpace(req.Value))
		if err != nil {
			s.writeError(w, badRequest("value must be a duration"))
			return
		}
		if err := s.svc.ProposeMaxOracleAge(r.Context(), caller, age); err != nil {
			s.writeError(w, err)
			return
		}
	case paramAllocation:
		if len(req.AllocationBps) != 4 {
			s.writeError(w, badRequest("allocationBps must list four tiers"))
			return
		}
		var allocation treasury.Allocation
		copy(allocation[:], req.AllocationBps)
		if err := s.svc.ProposeAllocation(r.Context(), caller, allocation); err != nil {
			s.writeError(w, err)
			return
		}
	default:
		s.writeError(w, badRequest("unknown parameter"))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "proposed"})
}

func (s *Server) handleExecuteChange(w http.ResponseWriter, r *http.Request) {
	caller, err := s.decodeCaller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch chi.URLParam(r, "param") {
	case paramEpochCap:
		err = s.svc.ExecuteEpochCap(r.Context(), caller)
	case paramOracleAge:
		err = s.svc.ExecuteMaxOracleAge(r.Context(), caller)
	case paramAllocation:
		err = s.svc.ExecuteAllocation(r.Context(), caller)
	default:
		err = badRequest("unknown parameter")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (s *Server) handleCancelChange(w http.ResponseWriter, r *http.Request) {
	caller, err := s.decodeCaller(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch chi.URLParam(r, "param") {
	case paramEpochCap:
		err = s.svc.CancelEpochCap(r.Context(), caller)
	case paramOracleAge:
		err = s.svc.CancelMaxOracleAge(r.Context(), caller)
	case paramAllocation:
		err = s.svc.CancelAllocation(r.Context(), caller)
	default:
		err = badRequest("unknown parameter")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) decodeCaller(r *http.Request) (ethcommon.Address, error) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := s.decode(r, &req); err != nil {
		return ethcommon.Address{}, err
	}
	return parseAddress("caller", req.Caller)
}
