package server

import (
	"net/http"
	"time"

	"github.com/onnwee/streamgate/oauth"
	"github.com/onnwee/streamgate/telemetry"
)

// channelSummary is the administrative listing projection. Ciphertext never
// appears here.
type channelSummary struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	ProfileImageURL string    `json:"profile_image_url"`
	BroadcasterType string    `json:"broadcaster_type"`
	ConnectedAt     time.Time `json:"connectedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	RefreshAt       time.Time `json:"refreshAt"`
	Status          string    `json:"status"`
}

// HandleChannelsList enumerates connected channels, newest first. Admin only.
func (h *Handlers) HandleChannelsList(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListAll(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch channels")
		return
	}
	now := time.Now()
	out := make([]channelSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, channelSummary{
			ID:              rec.Metadata.TwitchID,
			Login:           rec.ChannelLogin,
			DisplayName:     rec.Metadata.DisplayName,
			ProfileImageURL: rec.Metadata.ProfileImageURL,
			BroadcasterType: rec.Metadata.BroadcasterType,
			ConnectedAt:     rec.ConnectedAt,
			ExpiresAt:       rec.ExpiresAt,
			RefreshAt:       rec.ExpiresAt.Add(-oauth.RefreshWindow),
			Status:          string(rec.EffectiveStatus(now)),
		})
	}
	telemetry.SetConnectedChannels(len(out))
	writeJSON(w, http.StatusOK, out)
}

// HandleChannelDisconnect removes a channel's credential record.
func (h *Handlers) HandleChannelDisconnect(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	id, ok := identityFrom(r.Context())
	if !ok || !authorizeOrCount(id, channel) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	existed, err := h.manager.Disconnect(r.Context(), channel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to disconnect channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": existed})
}
