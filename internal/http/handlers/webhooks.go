package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"sorajobs/internal/domain"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/telemetry"
)

const maxWebhookBody = 1 << 20

// ProviderWebhook handles async updates pushed by a generation provider. The
// payload is folded through the same reconciliation path as a poll, so a
// duplicate or late delivery on a terminal job is a no-op.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	provider := domain.Provider(chi.URLParam(r, "provider"))
	if _, ok := a.Providers.Get(provider); !ok {
		a.error(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	telemetry.WebhookEvents.WithLabelValues(string(provider)).Inc()

	providerJobID := webhookJobID(payload)
	if providerJobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "missing request id")
		return
	}
	job, err := a.Jobs.GetByProviderJobID(r.Context(), provider, providerJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Unknown job ids are acknowledged so the provider stops retrying.
			a.json(w, http.StatusOK, map[string]any{"ok": true, "ignored": true})
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	upd := webhookUpdate(payload)
	if _, err := a.Reconciler.Reconcile(r.Context(), job, upd); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to apply update")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"ok": true})
}

// webhookJobID digs the provider's job id out of the delivery body.
func webhookJobID(payload map[string]any) string {
	for _, key := range []string{"request_id", "id", "prediction_id"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		if s, ok := data["id"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// webhookUpdate shapes a delivery body into a provider update. fal deliveries
// wrap the result under "payload" with an OK/ERROR delivery status; WaveSpeed
// posts the prediction envelope itself.
func webhookUpdate(payload map[string]any) domain.ProviderUpdate {
	upd := domain.ProviderUpdate{Payload: payload}
	status, _ := payload["status"].(string)
	switch status {
	case "OK":
		upd.Status = "completed"
		if inner, ok := payload["payload"].(map[string]any); ok {
			upd.Payload = inner
			if s, ok := inner["status"].(string); ok {
				upd.ResultStatus = s
			}
		}
	case "ERROR":
		upd.Status = "failed"
		if msg, ok := lifecycle.ExtractErrorText(payload); ok {
			upd.Error = msg
		}
	default:
		upd.Status = status
		if data, ok := payload["data"].(map[string]any); ok {
			if s, ok := data["status"].(string); ok && s != "" {
				upd.Status = s
			}
		}
		if msg, ok := lifecycle.ExtractErrorText(payload); ok {
			upd.Error = msg
		}
	}
	return upd
}

// StripeWebhook grants purchased credits. Signature is verified against the
// endpoint secret and the grant is keyed on the event id, so Stripe's retry
// semantics can never double-credit a user.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	event, err := webhook.ConstructEventWithOptions(
		body,
		r.Header.Get("Stripe-Signature"),
		a.Config.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid signature")
		return
	}
	telemetry.WebhookEvents.WithLabelValues("stripe").Inc()

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		a.json(w, http.StatusOK, map[string]any{"ok": true, "ignored": true})
		return
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid session payload")
		return
	}
	userID := session.Metadata["user_id"]
	if userID == "" {
		userID = session.ClientReferenceID
	}
	credits, _ := strconv.Atoi(session.Metadata["credits"])
	if userID == "" || credits <= 0 {
		a.Logger.Warn().Str("event_id", event.ID).Msg("stripe: checkout session missing user or credit metadata")
		a.json(w, http.StatusOK, map[string]any{"ok": true, "ignored": true})
		return
	}

	// Event record and grant commit together: a failed grant leaves no
	// event row, so Stripe's retry is a fresh attempt rather than a
	// duplicate that silently drops the paid-for credits.
	fresh, err := a.Events.ProcessOnce(r.Context(), &domain.WebhookEvent{
		Provider:  "stripe",
		EventID:   event.ID,
		EventType: string(event.Type),
	}, &domain.LedgerEntry{
		UserID: userID,
		Delta:  credits,
		Reason: domain.ReasonStripeCheckout,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("event_id", event.ID).Msg("stripe: credit grant failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to grant credits")
		return
	}
	if !fresh {
		a.json(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true})
		return
	}
	a.Logger.Info().Str("user_id", userID).Int("credits", credits).Str("event_id", event.ID).Msg("stripe: credits granted")
	a.json(w, http.StatusOK, map[string]any{"ok": true})
}
