package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"goldchain/core"
	"goldchain/crypto"
	"goldchain/indexer"
	"goldchain/native/ledger"
	"goldchain/observability"
	"goldchain/observability/logging"
)

const (
	methodInitialize    = "ledger_initialize"
	methodAddLedger     = "ledger_addLedger"
	methodGetLedger     = "ledger_getLedger"
	methodGetAllLedgers = "ledger_getAllLedgers"
	methodGetConfig     = "ledger_getConfig"
	methodDeriveKey     = "ledger_deriveKey"
	methodHead          = "ledger_head"
	methodSearch        = "ledger_search"
)

type ledgerPairParams struct {
	TrackingID string `json:"trackingId"`
	LotID      string `json:"lotId"`
}

type ledgerLookupParams struct {
	TrackingID *string `json:"trackingId,omitempty"`
	LotID      *string `json:"lotId,omitempty"`
	Key        string  `json:"key,omitempty"`
}

// LedgerJSON is the wire form of a ledger record.
type LedgerJSON struct {
	Key        string `json:"key"`
	TrackingID string `json:"trackingId"`
	LotID      string `json:"lotId"`
	RecordedAt uint64 `json:"recordedAt"`
}

// ConfigJSON is the wire form of the admin configuration.
type ConfigJSON struct {
	Initialized bool   `json:"initialized"`
	Admin       string `json:"admin,omitempty"`
}

// HeadJSON is the wire form of the committed head.
type HeadJSON struct {
	Root      string `json:"root"`
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
	Ledgers   uint64 `json:"ledgers"`
}

type searchParams struct {
	TrackingID string `json:"trackingId,omitempty"`
	LotID      string `json:"lotId,omitempty"`
	From       uint64 `json:"from,omitempty"`
	To         uint64 `json:"to,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// SearchEntryJSON is one indexed match.
type SearchEntryJSON struct {
	LedgerJSON
	Position uint64 `json:"position"`
}

func formatLedgerJSON(l *ledger.Ledger) LedgerJSON {
	if l == nil {
		return LedgerJSON{}
	}
	return LedgerJSON{
		Key:        l.Key().String(),
		TrackingID: l.TrackingID,
		LotID:      l.LotID,
		RecordedAt: l.RecordedAt,
	}
}

func formatHeadJSON(head core.Head, count uint64) HeadJSON {
	return HeadJSON{
		Root:      head.Root.Hex(),
		Height:    head.Height,
		Timestamp: head.Timestamp,
		Ledgers:   count,
	}
}

// authenticate verifies the signed call carried in the single parameter and
// returns the caller and the signed params.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, req *RPCRequest) ([20]byte, json.RawMessage, bool) {
	var caller [20]byte
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one signed call object expected")
		return caller, nil, false
	}
	var call SignedCall
	if err := json.Unmarshal(req.Params[0], &call); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return caller, nil, false
	}
	caller, params, err := s.verifier.Verify(r.Context(), req.Method, call)
	if err != nil {
		reason := authRejectionReason(err)
		observability.RPC().RecordAuthRejection(reason)
		s.logger.Warn("signed call rejected",
			slog.String("method", req.Method),
			slog.String("reason", reason),
			logging.Redact("signature", call.Signature))
		if errors.Is(err, ErrSignedCallMalformed) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		} else {
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "unauthorized", err.Error())
		}
		return caller, nil, false
	}
	return caller, params, true
}

func authRejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrSignedCallMalformed):
		return "malformed"
	case errors.Is(err, ErrMethodMismatch):
		return "method_mismatch"
	case errors.Is(err, ErrTimestampSkew):
		return "timestamp_skew"
	case errors.Is(err, ErrNonceInvalid):
		return "nonce_invalid"
	case errors.Is(err, ErrNonceReplayed):
		return "nonce_replayed"
	case errors.Is(err, crypto.ErrInvalidSignature):
		return "signature"
	default:
		return "internal"
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, _, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	if err := s.node.Initialize(caller); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	s.logger.Info("ledger initialized", slog.String("caller", crypto.FormatIdentity(caller)))
	writeResult(w, req.ID, ConfigJSON{Initialized: true, Admin: crypto.FormatIdentity(caller)})
}

func (s *Server) handleAddLedger(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, raw, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	var params ledgerPairParams
	if err := json.Unmarshal(raw, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.AddLedger(caller, params.TrackingID, params.LotID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	result := formatLedgerJSON(record)
	s.logger.Info("ledger recorded",
		slog.String("key", result.Key),
		slog.String("trackingId", record.TrackingID),
		slog.String("lotId", record.LotID))
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params ledgerLookupParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var (
		record *ledger.Ledger
		found  bool
		err    error
	)
	switch {
	case strings.TrimSpace(params.Key) != "":
		key, parseErr := ledger.ParseKey(params.Key)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		record, found, err = s.node.GetLedgerByKey(key)
	case params.TrackingID != nil && params.LotID != nil:
		record, found, err = s.node.GetLedger(*params.TrackingID, *params.LotID)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "trackingId and lotId, or key, required")
		return
	}
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	if !found {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, formatLedgerJSON(record))
}

func (s *Server) handleGetAllLedgers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	records, err := s.node.GetAllLedgers()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]LedgerJSON, 0, len(records))
	for _, record := range records {
		out = append(out, formatLedgerJSON(record))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	cfg, ok, err := s.node.GetConfig()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	if !ok {
		writeResult(w, req.ID, ConfigJSON{})
		return
	}
	writeResult(w, req.ID, ConfigJSON{Initialized: true, Admin: crypto.FormatIdentity(cfg.Admin)})
}

func (s *Server) handleDeriveKey(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params ledgerPairParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, ledger.DeriveKey(params.TrackingID, params.LotID).String())
}

func (s *Server) handleHead(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	count, err := s.node.LedgerCount()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatHeadJSON(s.node.Head(), count))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeIndexUnavailable, "indexer not configured", nil)
		return
	}
	var params searchParams
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at most one parameter object expected")
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	entries, err := s.searcher.Search(r.Context(), indexer.Filter{
		TrackingID: params.TrackingID,
		LotID:      params.LotID,
		From:       params.From,
		To:         params.To,
		Limit:      params.Limit,
		Offset:     params.Offset,
	})
	if err != nil {
		if errors.Is(err, indexer.ErrInvalidFilter) {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "search failed", err.Error())
		return
	}
	out := make([]SearchEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, SearchEntryJSON{
			LedgerJSON: LedgerJSON{
				Key:        entry.Key,
				TrackingID: entry.TrackingID,
				LotID:      entry.LotID,
				RecordedAt: entry.RecordedAt,
			},
			Position: entry.Position,
		})
	}
	writeResult(w, req.ID, out)
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, ledger.ErrAlreadyInitialized):
		writeError(w, http.StatusConflict, id, codeAlreadyInitialized, "already_initialized", err.Error())
	case errors.Is(err, ledger.ErrLedgerAlreadyExists):
		writeError(w, http.StatusConflict, id, codeLedgerAlreadyExists, "ledger_already_exists", err.Error())
	case errors.Is(err, ledger.ErrNotInitialized):
		writeError(w, http.StatusPreconditionFailed, id, codeNotInitialized, "not_initialized", err.Error())
	case errors.Is(err, ledger.ErrUnauthorizedAuthority):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, "unauthorized_authority", err.Error())
	case errors.Is(err, ledger.ErrStringTooLong):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "string_too_long", err.Error())
	case errors.Is(err, core.ErrNodeClosed):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, "node_closed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}
