package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/onnwee/streamgate/ledger"
	"github.com/onnwee/streamgate/oauth"
	"github.com/onnwee/streamgate/telemetry"
	"github.com/onnwee/streamgate/tokenstore"
)

// channelContext resolves everything a channel-scoped proxy call needs: the
// authorization decision, a live access token, and the broadcaster id. A
// denied caller learns nothing about whether the channel exists.
func (h *Handlers) channelContext(w http.ResponseWriter, r *http.Request) (ctx context.Context, channel, token, broadcasterID string, ok bool) {
	ctx = r.Context()
	channel = r.PathValue("channel")
	id, found := identityFrom(ctx)
	if !found || !authorizeOrCount(id, channel) {
		writeError(w, http.StatusForbidden, "forbidden")
		return ctx, "", "", "", false
	}
	token, err := h.manager.GetAccessToken(ctx, channel)
	if err != nil {
		switch {
		case errors.Is(err, tokenstore.ErrNotFound), errors.Is(err, oauth.ErrNeedsReconnect):
			writeError(w, http.StatusConflict, "channel needs reconnect")
		default:
			telemetry.LoggerWithCorr(ctx).Error("access token unavailable", "channel", channel, "err", err)
			writeError(w, http.StatusInternalServerError, "token unavailable")
		}
		return ctx, "", "", "", false
	}
	rec, err := h.store.Find(ctx, channel)
	if err != nil {
		writeError(w, http.StatusConflict, "channel needs reconnect")
		return ctx, "", "", "", false
	}
	broadcasterID = rec.Metadata.TwitchID
	if broadcasterID == "" {
		broadcasterID, err = h.helix.GetUserIDByLogin(ctx, channel)
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to resolve broadcaster")
			return ctx, "", "", "", false
		}
	}
	return ctx, channel, token, broadcasterID, true
}

type actionRequest struct {
	UserID   string `json:"userId"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

func decodeActionRequest(w http.ResponseWriter, r *http.Request) (actionRequest, bool) {
	var body actionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return body, false
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return body, false
	}
	return body, true
}

// HandleUserID resolves a login name to a Twitch user id for the action forms.
func (h *Handlers) HandleUserID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := r.PathValue("channel")
	id, found := identityFrom(ctx)
	if !found || !authorizeOrCount(id, channel) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	login := r.URL.Query().Get("username")
	userID, err := h.helix.GetUserIDByLogin(ctx, login)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"userId": userID})
}

// HandleBan permanently bans a user and records the action.
func (h *Handlers) HandleBan(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeActionRequest(w, r)
	if !ok {
		return
	}
	ctx, channel, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	if err := h.helix.BanUser(ctx, token, broadcasterID, body.UserID, body.Reason); err != nil {
		h.proxyError(ctx, w, "ban", err)
		return
	}
	telemetry.CountModAction(string(ledger.ActionBan))
	h.recordAction(ctx, ledger.Entry{
		ChannelID:     broadcasterID,
		ModeratorID:   broadcasterID,
		ModeratorName: channel,
		Action:        ledger.ActionBan,
		TargetUser:    body.UserID,
		Reason:        body.Reason,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleTimeout times a user out. The duration is validated before any
// provider call or persistence.
func (h *Handlers) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeActionRequest(w, r)
	if !ok {
		return
	}
	if body.Duration <= 0 || body.Duration > ledger.MaxTimeoutSeconds {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("timeout duration must be within (0, %d] seconds", ledger.MaxTimeoutSeconds))
		return
	}
	ctx, channel, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	if err := h.helix.TimeoutUser(ctx, token, broadcasterID, body.UserID, body.Duration, body.Reason); err != nil {
		h.proxyError(ctx, w, "timeout", err)
		return
	}
	telemetry.CountModAction(string(ledger.ActionTimeout))
	h.recordAction(ctx, ledger.Entry{
		ChannelID:     broadcasterID,
		ModeratorID:   broadcasterID,
		ModeratorName: channel,
		Action:        ledger.ActionTimeout,
		TargetUser:    body.UserID,
		Duration:      body.Duration,
		Reason:        body.Reason,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// simpleAction covers the moderation calls that share a shape: one target
// user, no extra parameters.
func (h *Handlers) simpleAction(w http.ResponseWriter, r *http.Request, action ledger.ActionType,
	call func(ctx context.Context, token, broadcasterID, targetID string) error) {
	body, ok := decodeActionRequest(w, r)
	if !ok {
		return
	}
	ctx, channel, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	if err := call(ctx, token, broadcasterID, body.UserID); err != nil {
		h.proxyError(ctx, w, string(action), err)
		return
	}
	telemetry.CountModAction(string(action))
	h.recordAction(ctx, ledger.Entry{
		ChannelID:     broadcasterID,
		ModeratorID:   broadcasterID,
		ModeratorName: channel,
		Action:        action,
		TargetUser:    body.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) HandleUnban(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionUnban, h.helix.UnbanUser)
}

func (h *Handlers) HandleUntimeout(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionUntimeout, h.helix.UnbanUser)
}

func (h *Handlers) HandleMod(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionMod, h.helix.AddModerator)
}

func (h *Handlers) HandleUnmod(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionUnmod, h.helix.RemoveModerator)
}

func (h *Handlers) HandleVIP(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionVIP, h.helix.AddVIP)
}

func (h *Handlers) HandleUnvip(w http.ResponseWriter, r *http.Request) {
	h.simpleAction(w, r, ledger.ActionUnvip, h.helix.RemoveVIP)
}

// HandleCommercial starts an ad break on the channel.
func (h *Handlers) HandleCommercial(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Length int `json:"length"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Length <= 0 {
		body.Length = 30
	}
	ctx, _, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	if err := h.helix.StartCommercial(ctx, token, broadcasterID, body.Length); err != nil {
		h.proxyError(ctx, w, "commercial", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleStreamInfoGet reads current title, category, and live state.
func (h *Handlers) HandleStreamInfoGet(w http.ResponseWriter, r *http.Request) {
	ctx, _, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	info, err := h.helix.GetChannelInfo(ctx, token, broadcasterID)
	if err != nil {
		h.proxyError(ctx, w, "stream-info", err)
		return
	}
	stream, err := h.helix.GetStream(ctx, token, broadcasterID)
	if err != nil {
		h.proxyError(ctx, w, "stream-info", err)
		return
	}
	out := map[string]any{
		"title":    info.Title,
		"category": info.GameName,
		"isLive":   stream != nil,
	}
	if stream != nil {
		out["startedAt"] = stream.StartedAt
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleStreamInfoPatch updates the channel title and/or category.
func (h *Handlers) HandleStreamInfoPatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title  string `json:"title"`
		GameID string `json:"gameId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == "" && body.GameID == "" {
		writeError(w, http.StatusBadRequest, "title or gameId is required")
		return
	}
	ctx, _, token, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	if err := h.helix.ModifyChannel(ctx, token, broadcasterID, body.Title, body.GameID); err != nil {
		h.proxyError(ctx, w, "stream-info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleModStats reports per-moderator aggregates from the ledger.
func (h *Handlers) HandleModStats(w http.ResponseWriter, r *http.Request) {
	ctx, _, _, broadcasterID, ok := h.channelContext(w, r)
	if !ok {
		return
	}
	days := 30
	if s := r.URL.Query().Get("days"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			days = n
		}
	}
	stats, err := h.ledger.AggregateStats(ctx, broadcasterID, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// proxyError maps a Helix failure to a response without leaking the provider
// body, which can contain request details not meant for the caller.
func (h *Handlers) proxyError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	telemetry.LoggerWithCorr(ctx).Warn("helix call failed", "op", op, "err", err)
	writeError(w, http.StatusBadGateway, op+" request failed")
}
