package rpcserver

import (
	"encoding/json"
	"time"

	"github.com/otcswap/broker/internal/audit"
	"github.com/otcswap/broker/internal/coinregistry"
	"github.com/otcswap/broker/internal/commission"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/dealerr"
	"github.com/otcswap/broker/internal/oracle"
	"github.com/otcswap/broker/internal/store"
	"github.com/otcswap/broker/internal/util"
	"github.com/shopspring/decimal"
)

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return dealerr.New(dealerr.InvalidInput, "missing params")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return dealerr.Wrap(dealerr.InvalidInput, "malformed params", err)
	}
	return nil
}

func toAssetSpec(p AssetSpecParam) (deal.AssetSpec, error) {
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return deal.AssetSpec{}, dealerr.Wrap(dealerr.InvalidInput, "invalid amount", err)
	}
	if p.ChainID == "" || p.AssetCode == "" {
		return deal.AssetSpec{}, dealerr.New(dealerr.InvalidInput, "chainId and assetCode are required")
	}
	return deal.AssetSpec{ChainID: p.ChainID, AssetCode: p.AssetCode, Amount: amount}, nil
}

// handleCreateDeal implements otc.createDeal: validates both sides' asset
// specs, creates the deal in CREATED, and mints one party-link token per
// side.
func (s *Server) handleCreateDeal(raw json.RawMessage) (interface{}, error) {
	var p createDealParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	sideA, err := toAssetSpec(p.SideA)
	if err != nil {
		return nil, err
	}
	sideB, err := toAssetSpec(p.SideB)
	if err != nil {
		return nil, err
	}
	if p.TimeoutSeconds <= 0 {
		return nil, dealerr.New(dealerr.InvalidInput, "timeoutSeconds must be positive")
	}

	id, err := util.NewID()
	if err != nil {
		return nil, dealerr.Wrap(dealerr.Fatal, "failed to generate deal id", err)
	}
	name := p.Name
	if name == "" {
		name = id
	}
	d := deal.NewDeal(id, name, sideA, sideB, p.TimeoutSeconds)
	if err := s.deals.Create(d); err != nil {
		return nil, dealerr.Wrap(dealerr.Fatal, "failed to persist deal", err)
	}

	linkA, err := s.mintPartyToken(d.ID, deal.SideA)
	if err != nil {
		return nil, err
	}
	linkB, err := s.mintPartyToken(d.ID, deal.SideB)
	if err != nil {
		return nil, err
	}

	return createDealResult{DealID: d.ID, DealName: d.Name, LinkA: linkA, LinkB: linkB}, nil
}

func (s *Server) mintPartyToken(dealID string, side deal.Side) (string, error) {
	token, err := util.NewPartyToken()
	if err != nil {
		return "", dealerr.Wrap(dealerr.Fatal, "failed to generate party token", err)
	}
	if err := s.tokens.Create(&store.Token{Token: token, DealID: dealID, Party: side, CreatedAt: time.Now()}); err != nil {
		return "", dealerr.Wrap(dealerr.Fatal, "failed to persist party token", err)
	}
	return s.cfg.BaseURL + "/d/" + dealID + "/" + partyPathSegment(side) + "/" + token, nil
}

func partyPathSegment(side deal.Side) string {
	if side == deal.SideA {
		return "a"
	}
	return "b"
}

func sideFromParam(party string) (deal.Side, bool) {
	switch party {
	case "A", "a":
		return deal.SideA, true
	case "B", "b":
		return deal.SideB, true
	default:
		return "", false
	}
}

// authorizeToken validates a party-link token against the claimed deal and
// side. Every call counts against the deal's rate limit, and a token
// mismatch is audit-logged; a rejection by the rate limiter is not.
func (s *Server) authorizeToken(dealID, tokenStr string, side deal.Side) error {
	if s.limiter != nil && !s.limiter.AllowAttempt(dealID) {
		return dealerr.New(dealerr.InvalidToken, "too many token attempts for this deal")
	}
	tok, err := s.tokens.Get(tokenStr)
	if err != nil || tok.DealID != dealID || tok.Party != side {
		s.auditSecurity(dealID, "InvalidToken", "token mismatch or not found")
		return dealerr.New(dealerr.InvalidToken, "invalid or unrecognized party token")
	}
	return nil
}

func (s *Server) auditSecurity(dealID, operation, reason string) {
	s.logAudit(dealID, operation, "FAILURE", reason)
}

func (s *Server) auditSuccess(dealID, operation, detail string) {
	s.logAudit(dealID, operation, "SUCCESS", detail)
}

func (s *Server) logAudit(dealID, operation, status, detail string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogOperation(audit.AuditLogEntry{
		DealID:        dealID,
		Timestamp:     time.Now(),
		Operation:     operation,
		Status:        status,
		FailureReason: detail,
	})
}

// handleFillPartyDetails implements otc.fillPartyDetails.
func (s *Server) handleFillPartyDetails(raw json.RawMessage) (interface{}, error) {
	var p fillPartyDetailsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	side, ok := sideFromParam(p.Party)
	if !ok {
		return nil, dealerr.New(dealerr.InvalidInput, "party must be A or B")
	}
	if err := s.authorizeToken(p.DealID, p.Token, side); err != nil {
		return nil, err
	}

	d, err := s.deals.Get(p.DealID)
	if err != nil {
		return nil, dealerr.Wrap(dealerr.NotFound, "deal not found", err)
	}
	if err := d.FillPartyDetails(side, p.PaybackAddress, p.RecipientAddress, p.Email); err != nil {
		s.auditSecurity(p.DealID, "InvalidTransition", err.Error())
		return nil, err
	}
	if err := s.deals.Save(d); err != nil {
		return nil, dealerr.Wrap(dealerr.Fatal, "failed to persist deal", err)
	}
	return okResult{OK: true}, nil
}

// handleCancelDeal implements otc.cancelDeal.
func (s *Server) handleCancelDeal(raw json.RawMessage) (interface{}, error) {
	var p cancelDealParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	d, err := s.deals.Get(p.DealID)
	if err != nil {
		return nil, dealerr.Wrap(dealerr.NotFound, "deal not found", err)
	}

	// Either party's token cancels the deal; try both sides before failing.
	if s.authorizeToken(p.DealID, p.Token, deal.SideA) != nil && s.authorizeToken(p.DealID, p.Token, deal.SideB) != nil {
		return nil, dealerr.New(dealerr.InvalidToken, "invalid or unrecognized party token")
	}
	if err := d.Cancel(); err != nil {
		return nil, err
	}
	if err := s.deals.Save(d); err != nil {
		return nil, dealerr.Wrap(dealerr.Fatal, "failed to persist deal", err)
	}
	return okResult{OK: true}, nil
}

// handleSendInvite implements otc.sendInvite, delegating delivery to the
// mail collaborator.
func (s *Server) handleSendInvite(raw json.RawMessage) (interface{}, error) {
	var p sendInviteParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if _, err := s.deals.Get(p.DealID); err != nil {
		return nil, dealerr.Wrap(dealerr.NotFound, "deal not found", err)
	}
	if err := s.mailer.SendInvite(p.Email, p.DealID, p.Link); err != nil {
		return nil, dealerr.Wrap(dealerr.AdapterTransient, "failed to send invite", err)
	}
	return sendInviteResult{Sent: true, Email: p.Email}, nil
}

// handleSetPrice implements admin.setPrice, recording a MANUAL oracle
// quote. This endpoint has no token gate of its own; deployments are
// expected to keep it behind an operator-only network boundary.
func (s *Server) handleSetPrice(raw json.RawMessage) (interface{}, error) {
	var p setPriceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, dealerr.Wrap(dealerr.InvalidInput, "invalid price", err)
	}
	asOf := time.Now()
	s.quotes.Record(oracle.Quote{ChainID: p.ChainID, Pair: p.Pair, Price: price, AsOf: asOf, Source: "MANUAL"})
	s.auditSuccess("", "AdminPriceOverride", p.ChainID+" "+p.Pair+"="+p.Price)
	return setPriceResult{OK: true, AsOf: asOf}, nil
}

// handleGetChainConfig implements otc.getChainConfig, returning either one
// chain's metadata or every configured chain.
func (s *Server) handleGetChainConfig(raw json.RawMessage) (interface{}, error) {
	var p getChainConfigParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}

	if p.ChainID != "" {
		meta, err := s.chains.Get(p.ChainID)
		if err != nil {
			return nil, dealerr.Wrap(dealerr.NotFound, "unknown chain", err)
		}
		return toChainConfigEntry(*meta), nil
	}

	all := s.chains.All()
	out := make([]ChainConfigEntry, 0, len(all))
	for _, meta := range all {
		out = append(out, toChainConfigEntry(meta))
	}
	return out, nil
}

func toChainConfigEntry(meta coinregistry.ChainMetadata) ChainConfigEntry {
	return ChainConfigEntry{ChainID: meta.ChainID, NativeSymbol: meta.NativeSymbol, Category: string(meta.Category)}
}

// handleStatus implements otc.status: the full, public, token-free deal
// projection.
func (s *Server) handleStatus(raw json.RawMessage) (interface{}, error) {
	var p statusParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	d, err := s.deals.Get(p.DealID)
	if err != nil {
		return nil, dealerr.Wrap(dealerr.NotFound, "deal not found", err)
	}

	proj := statusProjection{
		Stage:          d.Stage,
		TimeoutSeconds: d.TimeoutSeconds,
		ExpiresAt:      d.ExpiresAt,
		Instructions:   map[deal.Side][]instruction{},
		Collection:     map[deal.Side]collectionView{},
		Events:         d.Events,
		PartyDetails:   d.PartyDetails,
		Spec:           d.Spec,
		CommissionPlan: d.CommissionPlan,
		Escrow:         d.Escrow,
		RPCEndpoints:   map[string]string{},
	}

	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		spec := d.Spec[side]
		plan := d.CommissionPlan[side]
		escrow := d.Escrow[side]

		proj.Instructions[side] = s.instructionsFor(spec, plan, escrow)

		byAsset := make(map[string]string)
		for asset, amount := range d.SideState[side].CollectedByAsset {
			byAsset[asset] = amount.String()
		}
		proj.Collection[side] = collectionView{Deposits: d.SideState[side].Deposits, CollectedByAsset: byAsset}

		if meta, err := s.chains.Get(spec.ChainID); err == nil {
			proj.RPCEndpoints[spec.ChainID] = string(meta.Category)
		}
	}

	if s.payouts != nil {
		for _, intent := range s.payouts.ByDeal(d.ID) {
			proj.Payouts = append(proj.Payouts, intent)
			if intent.SubmittedTx != nil {
				proj.Transactions = append(proj.Transactions, intent.SubmittedTx)
			}
		}
	}

	return proj, nil
}

// instructionsFor computes what a side must send and where, using the same
// commission.RequiredByAsset math the engine freezes at COLLECTION entry.
// Before an escrow exists the amount is still informative (it reflects the
// as-yet-unfrozen default commission), since a party needs to know roughly
// what to expect before locking their details.
func (s *Server) instructionsFor(spec deal.AssetSpec, plan deal.CommissionPlan, escrow deal.Escrow) []instruction {
	isNativeEVM := false
	if meta, err := s.chains.Get(spec.ChainID); err == nil {
		isNativeEVM = meta.Category == coinregistry.ChainCategoryEVM && !spec.IsToken()
	}
	required := commission.RequiredByAsset(spec, plan, isNativeEVM)

	out := make([]instruction, 0, len(required))
	for asset, amount := range required {
		out = append(out, instruction{AssetCode: asset, Amount: amount.String(), To: escrow.Address})
	}
	return out
}
