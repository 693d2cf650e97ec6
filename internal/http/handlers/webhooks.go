package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidesk/backend/internal/channels"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/service"
)

type WebhookResult struct {
	Received int                     `json:"received"`
	Failed   int                     `json:"failed"`
	Results  []service.InboundResult `json:"results"`
}

// receive hands each normalized message to the inbox. One bad message does not
// stop the rest of the batch; providers get 200 so they do not redeliver.
func (h *Handler) receive(c *gin.Context, ch models.Channel, msgs []channels.InboundMessage) {
	out := WebhookResult{Results: []service.InboundResult{}}
	for _, m := range msgs {
		res, err := h.Inbox.Receive(c.Request.Context(), ch, m)
		if err != nil {
			out.Failed++
			h.Logger.Error().Err(err).
				Str("channel_id", ch.ID).
				Str("external_id", m.ExternalID).
				Msg("inbound message")
			continue
		}
		out.Received++
		out.Results = append(out.Results, res)
	}
	c.JSON(http.StatusOK, out)
}

// @Summary WhatsApp webhook
// @Description Evolution API messages.upsert events; the instance's own messages are ignored
// @Tags webhooks
// @Accept json
// @Produce json
// @Param channelId path string true "Channel ID"
// @Success 200 {object} WebhookResult
// @Router /webhooks/whatsapp/{channelId} [post]
func (h *Handler) WebhookWhatsApp(c *gin.Context) {
	ch, ok := h.loadChannel(c, models.ChannelWhatsApp)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable body", err.Error())
		return
	}
	msgs, err := channels.ParseEvolutionWebhook(body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	h.receive(c, ch, msgs)
}

// WebhookMetaVerify answers the Graph API subscription handshake.
func (h *Handler) WebhookMetaVerify(c *gin.Context) {
	ch, ok := h.loadChannel(c, models.ChannelInstagram, models.ChannelFacebook)
	if !ok {
		return
	}
	token := ch.ConfigString("verifyToken")
	if token == "" {
		token = h.MetaVerifyToken
	}
	if c.Query("hub.mode") != "subscribe" || token == "" || c.Query("hub.verify_token") != token {
		writeError(c, http.StatusForbidden, "UNAUTHORIZED", "Verification failed", nil)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

func (h *Handler) WebhookInstagram(c *gin.Context) {
	h.metaWebhook(c, models.ChannelInstagram)
}

func (h *Handler) WebhookFacebook(c *gin.Context) {
	h.metaWebhook(c, models.ChannelFacebook)
}

func (h *Handler) metaWebhook(c *gin.Context, t models.ChannelType) {
	ch, ok := h.loadChannel(c, t)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable body", err.Error())
		return
	}
	msgs, err := channels.ParseMetaWebhook(body, t)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	h.receive(c, ch, msgs)
}

// @Summary Marketplace webhook
// @Description Message notifications; the pack is fetched and the seller's own messages skipped
// @Tags webhooks
// @Accept json
// @Produce json
// @Param channelId path string true "Channel ID"
// @Success 200 {object} WebhookResult
// @Router /webhooks/marketplace/{channelId} [post]
func (h *Handler) WebhookMarketplace(c *gin.Context) {
	ch, ok := h.loadChannel(c, models.ChannelMarketplace)
	if !ok {
		return
	}
	var n channels.MarketplaceNotification
	if err := c.ShouldBindJSON(&n); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if n.Topic != "messages" || n.Resource == "" {
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}
	if h.Marketplace == nil {
		writeError(c, http.StatusServiceUnavailable, "INVALID_STATE", "Marketplace client not configured", nil)
		return
	}
	client, err := h.Marketplace(ch)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_STATE", "Marketplace channel misconfigured", err.Error())
		return
	}
	packID := n.PackID()
	pack, err := client.FetchPackMessages(c.Request.Context(), packID)
	if err != nil {
		h.Logger.Error().Err(err).Str("channel_id", ch.ID).Str("pack_id", packID).Msg("fetch marketplace pack")
		writeError(c, http.StatusBadGateway, "INVALID_STATE", "Failed to fetch pack messages", err.Error())
		return
	}
	h.receive(c, ch, channels.MarketplaceInbound(pack, packID, client.SellerID()))
}

// @Summary Webchat message
// @Tags webhooks
// @Accept json
// @Produce json
// @Param channelId path string true "Channel ID"
// @Param body body channels.WebchatMessage true "Visitor message"
// @Success 200 {object} WebhookResult
// @Router /webhooks/webchat/{channelId} [post]
func (h *Handler) WebhookWebchat(c *gin.Context) {
	ch, ok := h.loadChannel(c, models.ChannelWebchat)
	if !ok {
		return
	}
	var req channels.WebchatMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payload", err.Error())
		return
	}
	h.receive(c, ch, []channels.InboundMessage{req.Inbound()})
}

func (h *Handler) WebhookEmail(c *gin.Context) {
	ch, ok := h.loadChannel(c, models.ChannelEmail)
	if !ok {
		return
	}
	var req channels.InboundEmail
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid payload", err.Error())
		return
	}
	h.receive(c, ch, []channels.InboundMessage{req.Inbound()})
}
