package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AlfredDev/alfred/api"
	"github.com/AlfredDev/alfred/guardrails"
	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/router"
	"github.com/AlfredDev/alfred/metering"
	"github.com/AlfredDev/alfred/types"
	"github.com/AlfredDev/alfred/wallet"
)

// HandleStream serves POST /v1/chat/completions/stream: it reserves
// estimated credits the same way HandleCompletion does, then forwards the
// provider's stream chunk-by-chunk as server-sent events, re-running the
// guardrail chain against the accumulated output after every delta so a
// misbehaving upstream is cut off mid-stream rather than after the fact.
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Messages) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "messages must not be empty", h.logger)
		return
	}

	ctx := r.Context()
	walletID, ok := types.TenantID(ctx)
	if !ok || walletID == "" {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "request is missing a tenant identity", h.logger)
		return
	}

	route, err := h.router.Select(ctx, &router.RouteRequest{
		TaskType:    "chat",
		TenantID:    walletID,
		Tags:        req.Tags,
		PreferModel: req.Model,
	})
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrModelNotFound, "no route available for the requested model", h.logger)
		return
	}

	provider, ok := h.providers[route.ProviderCode]
	if !ok {
		WriteErrorMessage(w, http.StatusBadGateway, types.ErrProviderUnavailable, fmt.Sprintf("provider %q is not configured", route.ProviderCode), h.logger)
		return
	}

	msgs := toTokenizerMessages(req.Messages)
	estimate, err := h.meter.Estimate(route.ProviderCode, route.ModelName, msgs, req.MaxTokens)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "could not estimate request cost: "+err.Error(), h.logger)
		return
	}

	requestID := req.TraceID
	if requestID == "" {
		requestID = w.Header().Get("X-Request-ID")
	}

	reservation, err := h.walletMgr.Reserve(ctx, walletID, estimate, requestID, 2*time.Minute)
	if err != nil {
		WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrBudgetExhausted, "insufficient wallet balance for estimated cost: "+err.Error(), h.logger)
		return
	}

	upstreamReq := &llm.ChatRequest{
		TraceID:     req.TraceID,
		TenantID:    walletID,
		Model:       route.ModelName,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Tags:        req.Tags,
	}

	chunks, err := provider.Stream(ctx, upstreamReq)
	if err != nil {
		h.failRequest(ctx, w, reservation, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "response writer does not support streaming", h.logger)
		_ = h.walletMgr.Refund(ctx, reservation.ID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	chain := h.buildGuardrailChain(route.ModelName)
	acc := h.meter.NewAccumulator(route.ProviderCode, route.ModelName)

	var content strings.Builder
	finishReason := "stop"

	for {
		select {
		case <-ctx.Done():
			h.settleStream(ctx, reservation, acc, estimate, "cancelled")
			return

		case chunk, open := <-chunks:
			if !open {
				actualCost := h.settleStream(ctx, reservation, acc, estimate, finishReason)
				h.writeSSE(w, flusher, api.StreamChunk{
					Provider:     route.ProviderCode,
					Model:        route.ModelName,
					FinishReason: finishReason,
					Usage:        usagePtr(acc),
					AlfredUsage:  h.finalUsage(ctx, walletID, actualCost),
				})
				h.writeSSEDone(w, flusher)
				return
			}

			if chunk.Err != nil {
				finishReason = "error"
				h.settleStream(ctx, reservation, acc, estimate, finishReason)
				h.writeSSE(w, flusher, api.StreamChunk{
					Provider: route.ProviderCode,
					Model:    route.ModelName,
					Error: &api.ErrorDetail{
						Code:    string(chunk.Err.Code),
						Message: chunk.Err.Message,
					},
				})
				h.writeSSEDone(w, flusher)
				return
			}

			content.WriteString(chunk.Delta.Content)
			if _, terr := acc.AddOutputText(chunk.Delta.Content); terr != nil {
				h.logger.Warn("failed to tokenize stream delta", zap.Error(terr))
			}
			if chunk.Usage != nil {
				// The provider's own final usage always overrides the
				// locally tokenized running count, per spec's accuracy
				// rule: local count must agree within +-1% or the
				// provider count wins at settlement.
				acc.SetFinalUsage(metering.Usage{
					PromptTokens: chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				})
			}

			if _, verr := chain.Validate(ctx, content.String()); verr != nil {
				if _, isTripwire := verr.(*guardrails.TripwireError); isTripwire {
					finishReason = "guardrail"
					h.settleStream(ctx, reservation, acc, estimate, finishReason)
					h.writeSSE(w, flusher, api.StreamChunk{
						Provider: route.ProviderCode,
						Model:    route.ModelName,
						Error: &api.ErrorDetail{
							Code:    string(types.ErrGuardrailsViolated),
							Message: "response failed guardrail validation: " + verr.Error(),
						},
					})
					h.writeSSEDone(w, flusher)
					return
				}
			}

			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}

			h.writeSSE(w, flusher, api.StreamChunk{
				ID:           chunk.ID,
				Provider:     route.ProviderCode,
				Model:        route.ModelName,
				Index:        chunk.Index,
				Delta:        chunk.Delta,
				FinishReason: chunk.FinishReason,
			})
		}
	}
}

// settleStream converts the stream's accumulated usage into a final
// credit cost and settles the reservation against it, falling back to the
// pre-call estimate if accumulated usage can't be priced (the pricing
// table has no entry for the provider/model). It returns the amount actually
// charged so the caller can report it in the terminal chunk.
func (h *ChatHandler) settleStream(ctx context.Context, reservation *wallet.Reservation, acc *metering.Accumulator, estimate int64, finishReason string) int64 {
	actualCost, err := acc.Cost()
	if err != nil {
		actualCost = estimate
	}

	if err := h.walletMgr.Settle(ctx, reservation.ID, actualCost); err != nil {
		h.logger.Error("failed to settle stream reservation",
			zap.String("reservation_id", reservation.ID), zap.String("finish_reason", finishReason), zap.Error(err))
	}
	return actualCost
}

func (h *ChatHandler) writeSSE(w http.ResponseWriter, flusher http.Flusher, chunk api.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		h.logger.Error("failed to marshal stream chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func usagePtr(acc *metering.Accumulator) *api.ChatUsage {
	u := acc.Usage()
	return &api.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.PromptTokens + u.OutputTokens,
		CachedTokens:     u.CachedTokens,
	}
}

func (h *ChatHandler) finalUsage(ctx context.Context, walletID string, actualCost int64) *api.AlfredUsage {
	remaining := int64(0)
	if wlt, err := h.walletStore.GetWallet(ctx, walletID); err == nil {
		remaining = wlt.Available()
	}
	return &api.AlfredUsage{
		CreditsCharged:   unitsToDecimal(actualCost),
		RemainingBalance: unitsToDecimal(remaining),
		CostUSD:          creditsToUSD(actualCost),
	}
}
