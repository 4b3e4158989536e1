package api

import (
	"context"
	"net/http"

	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/registry"
	"trigger-keeper/internal/swap"
)

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body createTriggerRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := body.toCreateRequest(caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	t, refund, err := s.triggers.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createTriggerResponse{Trigger: toTriggerResponse(t), Refund: intString(refund)})
}

func (b createTriggerRequest) toCreateRequest(owner domain.Address) (registry.CreateRequest, error) {
	amount, err := parseAmount("input_amount", b.InputAmount)
	if err != nil {
		return registry.CreateRequest{}, err
	}
	value, err := parseAmount("value", b.Value)
	if err != nil {
		return registry.CreateRequest{}, err
	}
	price, err := parsePrice(b.TriggerPrice)
	if err != nil {
		return registry.CreateRequest{}, err
	}
	duration, err := parseDuration(b.Duration)
	if err != nil {
		return registry.CreateRequest{}, err
	}
	return registry.CreateRequest{
		Owner:          owner,
		InputAsset:     b.InputAsset,
		TargetAsset:    b.TargetAsset,
		ReferenceAsset: b.ReferenceAsset,
		InputAmount:    amount,
		TriggerPrice:   price,
		Direction:      domain.Direction(b.Direction),
		SlippageBps:    b.SlippageBps,
		Duration:       duration,
		Value:          value,
	}, nil
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (s *Server) handleCancelTrigger(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Cancel(r.Context(), id, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (s *Server) handleExecuteTrigger(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sw, err := s.triggers.Execute(r.Context(), id, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSwapResponse(sw))
}

func (s *Server) handleExpireTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.triggers.Expire(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (s *Server) handleListOwnerTriggers(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseAddress(r.PathValue("address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.triggers.ListByOwner(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]triggerResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTriggerResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	f := s.triggers.Fees()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"creation_fee":     intString(f.CreationFee),
		"min_duration":     f.MinDuration.String(),
		"max_duration":     f.MaxDuration.String(),
		"max_slippage_bps": f.MaxSlippageBps,
	})
}

func (s *Server) handleInstantSwap(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body instantSwapRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("from_amount", body.FromAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("value", body.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sw, err := s.swaps.InstantSwap(r.Context(), swap.Request{
		User:         caller,
		FromAsset:    body.FromAsset,
		ToAsset:      body.ToAsset,
		FromAmount:   amount,
		SlippageBps:  body.SlippageBps,
		FundingValue: value,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSwapResponse(sw))
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	list, err := s.assets.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]assetResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toAssetResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertAsset(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body assetRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.assets.Upsert(r.Context(), caller, domain.AssetEntry{
		Symbol:      assets.NormalizeSymbol(r.PathValue("symbol")),
		TokenIndex:  body.TokenIndex,
		PriceIndex:  body.PriceIndex,
		MarketIndex: body.MarketIndex,
		Decimals:    body.Decimals,
		Native:      body.Native,
		Pegged:      body.Pegged,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(e))
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	list, err := s.roles.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(list))
	for _, g := range list {
		out = append(out, toRoleResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, s.roles.Grant)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, s.roles.Revoke)
}

type roleChange func(ctx context.Context, caller, account domain.Address, c domain.Capability) error

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, change roleChange) {
	caller, err := s.callerOf(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body roleRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := domain.ParseAddress(body.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := change(r.Context(), caller, account, domain.Capability(body.Capability)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
