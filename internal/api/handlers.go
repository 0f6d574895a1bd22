package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalbridge/internal/broker"
	"signalbridge/internal/model"
)

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}

// audit records one user action with the caller's address. Best-effort: a
// failed audit write never fails the request.
func (s *Server) audit(r *http.Request, action, kind string, resourceID *uuid.UUID, details map[string]any) {
	err := s.store.InsertAuditEvent(r.Context(), model.AuditEvent{
		UserID:       userFrom(r),
		Action:       action,
		ResourceKind: kind,
		ResourceID:   resourceID,
		Details:      details,
		ClientAddr:   r.RemoteAddr,
	})
	if err != nil {
		s.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

// --- broker configs ---

func (s *Server) handleListBrokerConfigs(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.BrokerAccountsForUser(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]brokerConfigView, len(accounts))
	for i := range accounts {
		out[i] = viewBrokerConfig(&accounts[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBrokerConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BrokerName string `json:"broker_name"`
		Login      string `json:"login"`
		Server     string `json:"server"`
		Password   string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Login == "" || req.Server == "" {
		writeDetail(w, http.StatusBadRequest, "login and server are required")
		return
	}

	userID := userFrom(r)
	account, err := s.store.CreateBrokerAccount(r.Context(), model.BrokerAccount{
		UserID:     userID,
		BrokerName: req.BrokerName,
		Login:      req.Login,
		Server:     req.Server,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The password goes straight into the vault; it is never stored plain.
	if req.Password != "" {
		if _, err := s.vault.StoreCredential(r.Context(), userID, &account.ID, model.CredPassword, req.Password); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.audit(r, "broker_config_created", "broker_config", &account.ID, map[string]any{
		"broker_name": account.BrokerName,
		"server":      account.Server,
	})
	writeJSON(w, http.StatusCreated, viewBrokerConfig(account))
}

func (s *Server) handleDeleteBrokerConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	if err := s.store.DeleteBrokerAccount(r.Context(), userFrom(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "broker_config_deleted", "broker_config", &id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- credentials ---

func (s *Server) handleStoreCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BrokerConfigID *string `json:"broker_config_id"`
		Type           string  `json:"credential_type"`
		Value          string  `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Value == "" {
		writeDetail(w, http.StatusBadRequest, "value is required")
		return
	}
	credType := model.CredentialType(req.Type)
	if credType != model.CredPassword && credType != model.CredAPIKey {
		writeDetail(w, http.StatusBadRequest, "unknown credential type")
		return
	}

	var brokerID *uuid.UUID
	if req.BrokerConfigID != nil {
		id, err := uuid.Parse(*req.BrokerConfigID)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "malformed broker_config_id")
			return
		}
		brokerID = &id
	}

	id, err := s.vault.StoreCredential(r.Context(), userFrom(r), brokerID, credType, req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Only the credential type is auditable; the value never leaves the vault.
	s.audit(r, "credential_stored", "credential", &id, map[string]any{
		"credential_type": string(credType),
	})
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	if err := s.vault.DeleteCredential(r.Context(), userFrom(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "credential_deleted", "credential", &id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// --- telegram channels ---

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ChannelSubscriptionsForUser(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]channelView, len(channels))
	for i := range channels {
		out[i] = viewChannel(&channels[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID int64  `json:"channel_id"`
		Label     string `json:"label"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.ChannelID == 0 {
		writeDetail(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	sub, err := s.store.CreateChannelSubscription(r.Context(), model.ChannelSubscription{
		UserID:    userFrom(r),
		ChannelID: req.ChannelID,
		Label:     req.Label,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewChannel(sub))
}

func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	if err := s.store.DeleteChannelSubscription(r.Context(), userFrom(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- subscribers ---

func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.SubscribersForUser(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]subscriberView, len(subs))
	for i := range subs {
		out[i] = viewSubscriber(&subs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Label   string `json:"label"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Address == "" {
		writeDetail(w, http.StatusBadRequest, "address is required")
		return
	}

	sub, err := s.store.CreateSubscriber(r.Context(), model.Subscriber{
		UserID:  userFrom(r),
		Address: req.Address,
		Label:   req.Label,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSubscriber(sub))
}

func (s *Server) handleDeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	if err := s.store.DeleteSubscriber(r.Context(), userFrom(r), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- signals ---

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	signals, err := s.store.SignalsForUser(r.Context(), userFrom(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]signalView, len(signals))
	for i := range signals {
		out[i] = viewSignal(&signals[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	sig, err := s.store.Signal(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSignal(sig))
}

// --- executions ---

func (s *Server) handleCreateExecutions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignalID       string `json:"signal_id"`
		BrokerConfigID string `json:"broker_config_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	signalID, err := uuid.Parse(req.SignalID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed signal_id")
		return
	}
	brokerID, err := uuid.Parse(req.BrokerConfigID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed broker_config_id")
		return
	}

	sig, err := s.store.Signal(r.Context(), userFrom(r), signalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	execs, err := s.engine.ProcessSignal(r.Context(), sig, brokerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewExecutions(execs))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	execs, err := s.store.ExecutionsForUser(r.Context(), userFrom(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecutions(execs))
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	e, err := s.store.Execution(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(e))
}

type levelsBody struct {
	StopLoss   *decimal.Decimal `json:"stop_loss"`
	TakeProfit *decimal.Decimal `json:"take_profit"`
}

func (s *Server) handleConfirmExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	var req levelsBody
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeDetail(w, http.StatusBadRequest, "malformed body")
			return
		}
	}

	e, err := s.engine.Confirm(r.Context(), userFrom(r), id, req.StopLoss, req.TakeProfit)
	if err != nil {
		// The execution may have moved to FAILED with the reason recorded.
		if e != nil {
			writeDetail(w, http.StatusBadRequest, e.Error)
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(e))
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	e, err := s.engine.Cancel(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(e))
}

func (s *Server) handleCloseExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	e, err := s.engine.Close(r.Context(), userFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(e))
}

func (s *Server) handleModifyExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeDetail(w, http.StatusBadRequest, "malformed id")
		return
	}
	var req levelsBody
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}

	e, err := s.engine.Modify(r.Context(), userFrom(r), id, req.StopLoss, req.TakeProfit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewExecution(e))
}

// --- settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.PreferencesForUser(r.Context(), userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSettings(prefs))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsView
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.RiskPerTrade.LessThan(model.MinVolume) {
		writeDetail(w, http.StatusBadRequest, "risk_per_trade below minimum volume")
		return
	}
	if req.MaxOpenPositions < 1 {
		writeDetail(w, http.StatusBadRequest, "max_open_positions must be at least 1")
		return
	}

	prefs := model.Preferences{
		UserID:           userFrom(r),
		ManualApproval:   req.ManualApproval,
		RiskPerTrade:     req.RiskPerTrade,
		MaxSlippagePips:  req.MaxSlippagePips,
		DefaultSLPips:    req.DefaultSLPips,
		UseLimitOrders:   req.UseLimitOrders,
		MaxOpenPositions: req.MaxOpenPositions,
	}
	if err := s.store.SavePreferences(r.Context(), &prefs); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSettings(&prefs))
}

// --- account info ---

func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	brokerID, err := uuid.Parse(r.URL.Query().Get("broker_config_id"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "broker_config_id is required")
		return
	}
	userID := userFrom(r)

	account, err := s.store.BrokerAccount(r.Context(), userID, brokerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	secrets, err := s.vault.BrokerCredentials(r.Context(), userID, brokerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	password, ok := secrets[model.CredPassword]
	if !ok {
		writeDetail(w, http.StatusBadRequest, "no stored password for this broker account")
		return
	}

	session, err := s.adapter.Connect(r.Context(), broker.Credentials{
		Login:    account.Login,
		Password: password,
		Server:   account.Server,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	info, err := session.AccountInfo(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"login":       info.Login,
		"balance":     info.Balance,
		"equity":      info.Equity,
		"margin":      info.Margin,
		"margin_free": info.MarginFree,
		"currency":    info.Currency,
		"leverage":    info.Leverage,
	})
}

// --- audit ---

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.store.AuditEventsForUser(r.Context(), userFrom(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]auditView, len(events))
	for i := range events {
		out[i] = viewAudit(&events[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// --- system ---

func (s *Server) handleSystemStart(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Start(r.Context()); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "system_started", "system", nil, nil)
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleSystemStop(w http.ResponseWriter, r *http.Request) {
	s.coordinator.Stop()
	s.audit(r, "system_stopped", "system", nil, nil)
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.coordinator.Status()
	status["ws_sessions"] = s.hub.SessionCount()
	writeJSON(w, http.StatusOK, status)
}
