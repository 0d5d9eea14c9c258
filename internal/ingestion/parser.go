package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"

	"FundLedger/internal/event"
	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

var ErrMissingRequestID = errors.New("missing request_id")

// ParseRawMessage converts a RawMessage (JSON bytes plus a command kind
// string) into a typed event.Inbound. The shell validates and converts
// commands here; nothing unparsed reaches the hub.
func ParseRawMessage(raw RawMessage, kind string) (event.Inbound, error) {
	switch kind {
	case "register_asset":
		return parseRegisterAsset(raw.Data)
	case "request_deposit":
		return parseDepositRequest(raw.Data)
	case "request_redeem":
		return parseRedeemRequest(raw.Data)
	case "cancel_deposit":
		return parseCancelDeposit(raw.Data)
	case "cancel_redeem":
		return parseCancelRedeem(raw.Data)
	case "claim_deposit":
		return parseClaimDeposit(raw.Data)
	case "claim_redeem":
		return parseClaimRedeem(raw.Data)
	case "create_pool":
		return parseOperator(raw.Data, kind, &event.CreatePool{})
	case "add_share_class":
		return parseOperator(raw.Data, kind, &event.AddShareClass{})
	case "create_account":
		return parseOperator(raw.Data, kind, &event.CreateAccount{})
	case "update_manager":
		return parseOperator(raw.Data, kind, &event.UpdateManager{})
	case "initialize_holding":
		return parseOperator(raw.Data, kind, &event.InitializeHolding{})
	case "revalue_holding":
		return parseOperator(raw.Data, kind, &event.RevalueHolding{})
	case "approve_deposits":
		return parseOperator(raw.Data, kind, &event.ApproveDeposits{})
	case "approve_redeems":
		return parseOperator(raw.Data, kind, &event.ApproveRedeems{})
	case "issue_shares":
		return parseOperator(raw.Data, kind, &event.IssueShares{})
	case "revoke_shares":
		return parseOperator(raw.Data, kind, &event.RevokeShares{})
	case "submit_queued":
		return parseOperator(raw.Data, kind, &event.SubmitQueued{})
	default:
		return nil, fmt.Errorf("unknown command kind: %s", kind)
	}
}

// parseOperator decodes an operator command straight into its typed
// form. Operator payloads are written by this process, so the JSON
// shape always matches the struct tags.
func parseOperator(data []byte, kind string, cmd event.Inbound) (event.Inbound, error) {
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", kind, err)
	}
	if cmd.IdempotencyKey() == "" {
		return nil, ErrMissingRequestID
	}
	return cmd, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match the spoke-network gateways.

type metaJSON struct {
	RequestID string `json:"request_id"`
	Origin    string `json:"origin"`
	Sequence  uint64 `json:"sequence"`
}

func (j metaJSON) meta() (event.Meta, error) {
	if j.RequestID == "" {
		return event.Meta{}, ErrMissingRequestID
	}
	return event.Meta{RequestID: j.RequestID, Source: j.Origin, Sequence: j.Sequence}, nil
}

type registerAssetJSON struct {
	metaJSON
	Asset    uint32 `json:"asset"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

func parseRegisterAsset(data []byte) (*event.RegisterAsset, error) {
	var j registerAssetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse register_asset: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	return &event.RegisterAsset{
		Meta:     meta,
		Asset:    registry.AssetID(j.Asset),
		Symbol:   j.Symbol,
		Decimals: j.Decimals,
	}, nil
}

type orderJSON struct {
	metaJSON
	ShareClass string `json:"share_class"`
	Asset      uint32 `json:"asset"`
	Investor   string `json:"investor"`
	Amount     uint64 `json:"amount"`
	MaxClaims  uint32 `json:"max_claims"`
}

func (j orderJSON) parties() (registry.ShareClassID, registry.InvestorID, error) {
	sc, err := uuid.Parse(j.ShareClass)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse share_class: %w", err)
	}
	inv, err := uuid.Parse(j.Investor)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse investor: %w", err)
	}
	return sc, inv, nil
}

func parseDepositRequest(data []byte) (*event.DepositRequest, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse request_deposit: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.DepositRequest{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
		Amount:     j.Amount,
	}, nil
}

func parseRedeemRequest(data []byte) (*event.RedeemRequest, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse request_redeem: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.RedeemRequest{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
		Amount:     j.Amount,
	}, nil
}

func parseCancelDeposit(data []byte) (*event.CancelDepositRequest, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse cancel_deposit: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.CancelDepositRequest{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
	}, nil
}

func parseCancelRedeem(data []byte) (*event.CancelRedeemRequest, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse cancel_redeem: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.CancelRedeemRequest{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
	}, nil
}

func parseClaimDeposit(data []byte) (*event.ClaimDeposit, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse claim_deposit: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.ClaimDeposit{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
		MaxClaims:  j.MaxClaims,
	}, nil
}

func parseClaimRedeem(data []byte) (*event.ClaimRedeem, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse claim_redeem: %w", err)
	}
	meta, err := j.meta()
	if err != nil {
		return nil, err
	}
	sc, inv, err := j.parties()
	if err != nil {
		return nil, err
	}
	return &event.ClaimRedeem{
		Meta:       meta,
		ShareClass: sc,
		Asset:      registry.AssetID(j.Asset),
		Investor:   inv,
		MaxClaims:  j.MaxClaims,
	}, nil
}
