package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlfredDev/alfred/api"
	"github.com/AlfredDev/alfred/guardrails"
	"github.com/AlfredDev/alfred/llm"
	"github.com/AlfredDev/alfred/llm/router"
	"github.com/AlfredDev/alfred/llm/tokenizer"
	"github.com/AlfredDev/alfred/metering"
	"github.com/AlfredDev/alfred/semcache"
	"github.com/AlfredDev/alfred/types"
	"github.com/AlfredDev/alfred/wallet"
	"go.uber.org/zap"
)

// cacheHitFeeNumerator/cacheHitFeeDenominator set the cache-hit billing
// fraction: a semantic cache hit still costs the tenant 10% of what a
// fresh call would have, covering the embedding lookup and acknowledging
// the cached response's provenance, rather than serving it for free.
const (
	cacheHitFeeNumerator   = 1
	cacheHitFeeDenominator = 10
)

// =============================================================================
// 💬 ChatHandler — the credit-governed completion endpoint
// =============================================================================

// ChatHandler serves /v1/chat/completions: it reserves estimated credits
// against the caller's wallet, routes to a provider/model, validates the
// provider's output against the guardrail chain, and settles (or refunds)
// the reservation at the true metered cost before replying.
type ChatHandler struct {
	router      *router.WeightedRouter
	failover    *router.Failover
	providers   map[string]llm.Provider
	walletMgr   *wallet.Manager
	walletStore *wallet.Store
	meter       *metering.Meter
	cache       *semcache.Cache
	embedder    semcache.Embedder
	guardCfg    GuardrailLimits
	logger      *zap.Logger
}

// GuardrailLimits is the subset of config.GuardrailsConfig the chat
// handler needs to build a per-request validation chain.
type GuardrailLimits struct {
	MaxOutputTokens      int
	MaxResponseBytes     int
	RepetitionWindow     int
	RepetitionMaxRepeats int
}

// NewChatHandler wires a ChatHandler over the gateway's routing, wallet,
// metering, and guardrail infrastructure. cache and embedder may both be
// nil, in which case semantic caching is skipped entirely.
func NewChatHandler(rtr *router.WeightedRouter, failover *router.Failover, providers map[string]llm.Provider, walletMgr *wallet.Manager, walletStore *wallet.Store, meter *metering.Meter, cache *semcache.Cache, embedder semcache.Embedder, guardCfg GuardrailLimits, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		router:      rtr,
		failover:    failover,
		providers:   providers,
		walletMgr:   walletMgr,
		walletStore: walletStore,
		meter:       meter,
		cache:       cache,
		embedder:    embedder,
		guardCfg:    guardCfg,
		logger:      logger,
	}
}

// promptKey concatenates a request's message contents into the text the
// semantic cache embeds and compares. Role is folded in so a system
// prompt swap invalidates a cache hit even if the user turn is identical.
func promptKey(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteByte(':')
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// HandleCompletion serves POST /v1/chat/completions.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
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

	if _, ok := h.providers[route.ProviderCode]; !ok {
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

	var cacheEmbedding []float32
	if h.cache != nil && h.embedder != nil {
		var embedErr error
		cacheEmbedding, embedErr = h.embedder.Embed(ctx, promptKey(req.Messages))
		if embedErr != nil {
			h.logger.Warn("semantic cache embed failed, skipping lookup", zap.Error(embedErr))
		} else if entry, hitErr := h.cache.Lookup(ctx, walletID, "chat", cacheEmbedding); hitErr == nil {
			if h.serveCacheHit(ctx, w, walletID, requestID, entry, estimate) {
				return
			}
		}
	}

	reservation, err := h.walletMgr.Reserve(ctx, walletID, estimate, requestID, 2*time.Minute)
	if err != nil {
		WriteErrorMessage(w, http.StatusTooManyRequests, types.ErrBudgetExhausted, "insufficient wallet balance for estimated cost: "+err.Error(), h.logger)
		return
	}

	dispatched, err := h.failover.Dispatch(ctx, route.ModelID, func(ctx context.Context, providerCode, modelName string) (*llm.ChatResponse, error) {
		p, ok := h.providers[providerCode]
		if !ok {
			return nil, types.NewError(types.ErrProviderUnavailable, fmt.Sprintf("provider %q is not configured", providerCode))
		}
		return p.Completion(ctx, &llm.ChatRequest{
			TraceID:     req.TraceID,
			TenantID:    walletID,
			Model:       modelName,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
			Tools:       req.Tools,
			ToolChoice:  req.ToolChoice,
			Tags:        req.Tags,
		})
	})
	if err != nil {
		h.failRequest(ctx, w, reservation, err)
		return
	}
	resp := dispatched.Response
	route.ProviderCode = dispatched.ProviderCode
	route.ModelName = dispatched.ModelName

	finalText := completionText(resp)
	chain := h.buildGuardrailChain(route.ModelName)
	result, verr := chain.Validate(ctx, finalText)
	if verr != nil {
		if _, isTripwire := verr.(*guardrails.TripwireError); isTripwire {
			_ = h.walletMgr.Refund(ctx, reservation.ID)
			WriteErrorMessage(w, http.StatusForbidden, types.ErrGuardrailsViolated, "response failed guardrail validation: "+verr.Error(), h.logger)
			return
		}
	}
	_ = result

	acc := h.meter.NewAccumulator(route.ProviderCode, route.ModelName)
	acc.Add(metering.Usage{PromptTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens})
	actualCost, err := acc.Cost()
	if err != nil {
		actualCost = estimate
	}

	if err := h.walletMgr.Settle(ctx, reservation.ID, actualCost); err != nil {
		h.logger.Error("failed to settle reservation", zap.String("reservation_id", reservation.ID), zap.Error(err))
	}

	if h.cache != nil && len(cacheEmbedding) > 0 {
		if payload, merr := json.Marshal(resp); merr == nil {
			h.cache.Store(ctx, walletID, &semcache.Entry{
				Namespace:  "chat",
				Embedding:  cacheEmbedding,
				Response:   payload,
				CreditCost: actualCost,
			})
		}
	}

	remaining := int64(0)
	if wlt, werr := h.walletStore.GetWallet(ctx, walletID); werr == nil {
		remaining = wlt.Available()
	}

	out := api.ChatResponse{
		ID:       resp.ID,
		Provider: resp.Provider,
		Model:    resp.Model,
		Choices:  toAPIChoices(resp.Choices),
		Usage: api.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		AlfredUsage: api.AlfredUsage{
			CreditsCharged:   unitsToDecimal(actualCost),
			RemainingBalance: unitsToDecimal(remaining),
			CostUSD:          creditsToUSD(actualCost),
		},
		CreatedAt: resp.CreatedAt,
	}

	WriteSuccess(w, out)
}

// HandleEmbeddings serves POST /v1/embeddings: it reserves estimated
// credits against the input token count (prompt tokens only — embeddings
// have no output side to meter), routes to an embeddings-capable provider,
// and settles at the provider's reported usage where available.
func (h *ChatHandler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.EmbeddingsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Input) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "input must not be empty", h.logger)
		return
	}

	ctx := r.Context()
	walletID, ok := types.TenantID(ctx)
	if !ok || walletID == "" {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "request is missing a tenant identity", h.logger)
		return
	}

	route, err := h.router.Select(ctx, &router.RouteRequest{
		TaskType:    "embedding",
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

	msgs := make([]tokenizer.Message, len(req.Input))
	for i, text := range req.Input {
		msgs[i] = tokenizer.Message{Role: "user", Content: text}
	}
	estimate, err := h.meter.Estimate(route.ProviderCode, route.ModelName, msgs, 0)
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

	resp, err := provider.Embeddings(ctx, &llm.EmbeddingsRequest{
		TraceID:  req.TraceID,
		TenantID: walletID,
		Model:    route.ModelName,
		Input:    req.Input,
	})
	if err != nil {
		h.failRequest(ctx, w, reservation, err)
		return
	}

	acc := h.meter.NewAccumulator(route.ProviderCode, route.ModelName)
	promptTokens := resp.Usage.PromptTokens
	if promptTokens == 0 {
		tok := tokenizer.GetTokenizerOrEstimator(route.ModelName)
		for _, text := range req.Input {
			n, cerr := tok.CountTokens(text)
			if cerr == nil {
				promptTokens += n
			}
		}
	}
	acc.Add(metering.Usage{PromptTokens: promptTokens})
	actualCost, err := acc.Cost()
	if err != nil {
		actualCost = estimate
	}

	if err := h.walletMgr.Settle(ctx, reservation.ID, actualCost); err != nil {
		h.logger.Error("failed to settle embeddings reservation", zap.String("reservation_id", reservation.ID), zap.Error(err))
	}

	remaining := int64(0)
	if wlt, werr := h.walletStore.GetWallet(ctx, walletID); werr == nil {
		remaining = wlt.Available()
	}

	data := make([]api.EmbeddingData, len(resp.Data))
	for i, d := range resp.Data {
		data[i] = api.EmbeddingData{Index: d.Index, Embedding: d.Embedding}
	}

	out := api.EmbeddingsResponse{
		Provider: resp.Provider,
		Model:    resp.Model,
		Data:     data,
		Usage: api.ChatUsage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
		AlfredUsage: api.AlfredUsage{
			CreditsCharged:   unitsToDecimal(actualCost),
			RemainingBalance: unitsToDecimal(remaining),
			CostUSD:          creditsToUSD(actualCost),
		},
		CreatedAt: time.Now(),
	}

	WriteSuccess(w, out)
}

// serveCacheHit writes a response straight from the semantic cache, billing
// the tenant a reduced fee instead of the full estimate since no provider
// call happened. It reports false (serving nothing) if the cached payload
// can't be decoded or the fee can't be reserved, so the caller falls through
// to a normal live request rather than failing outright.
func (h *ChatHandler) serveCacheHit(ctx context.Context, w http.ResponseWriter, walletID, requestID string, entry *semcache.Entry, estimate int64) bool {
	var cached llm.ChatResponse
	if err := json.Unmarshal(entry.Response, &cached); err != nil {
		h.logger.Warn("semantic cache entry unmarshal failed, falling back to live request", zap.Error(err))
		return false
	}

	fee := estimate * cacheHitFeeNumerator / cacheHitFeeDenominator
	if fee <= 0 {
		fee = 1
	}

	reservation, err := h.walletMgr.Reserve(ctx, walletID, fee, requestID, 2*time.Minute)
	if err != nil {
		h.logger.Warn("cache hit fee reservation failed, falling back to live request", zap.Error(err))
		return false
	}
	if err := h.walletMgr.Settle(ctx, reservation.ID, fee); err != nil {
		h.logger.Error("failed to settle cache-hit fee", zap.String("reservation_id", reservation.ID), zap.Error(err))
	}

	remaining := int64(0)
	if wlt, werr := h.walletStore.GetWallet(ctx, walletID); werr == nil {
		remaining = wlt.Available()
	}

	out := api.ChatResponse{
		ID:       cached.ID,
		Provider: cached.Provider,
		Model:    cached.Model,
		Choices:  toAPIChoices(cached.Choices),
		Usage: api.ChatUsage{
			PromptTokens:     cached.Usage.PromptTokens,
			CompletionTokens: cached.Usage.CompletionTokens,
			TotalTokens:      cached.Usage.TotalTokens,
		},
		AlfredUsage: api.AlfredUsage{
			CreditsCharged:   unitsToDecimal(fee),
			RemainingBalance: unitsToDecimal(remaining),
			CostUSD:          creditsToUSD(fee),
		},
		CreatedAt: cached.CreatedAt,
	}

	WriteSuccess(w, out)
	return true
}

// failRequest reports an upstream error to the client and refunds the
// reservation in full, whatever the error kind; no partial cost is charged.
// A *types.Error keeps its own code and mapped HTTP status; any other error
// is reported as upstream_transient with 502.
func (h *ChatHandler) failRequest(ctx context.Context, w http.ResponseWriter, reservation *wallet.Reservation, err error) {
	code := types.ErrUpstreamTransient
	status := http.StatusBadGateway
	if apiErr, ok := err.(*types.Error); ok {
		code = apiErr.Code
		status = types.HTTPStatusForCode(code)
	}

	if rerr := h.walletMgr.Refund(ctx, reservation.ID); rerr != nil {
		h.logger.Error("failed to refund reservation after upstream failure",
			zap.String("reservation_id", reservation.ID), zap.Error(rerr))
	}

	WriteErrorMessage(w, status, code, "upstream request failed: "+err.Error(), h.logger)
}

func (h *ChatHandler) buildGuardrailChain(model string) *guardrails.Chain {
	return guardrails.NewChain(
		guardrails.NewMaxOutputTokensValidator(model, h.guardCfg.MaxOutputTokens, 10),
		guardrails.NewByteBudgetValidator(h.guardCfg.MaxResponseBytes, 20),
		guardrails.NewRepetitionValidator(h.guardCfg.RepetitionWindow, h.guardCfg.RepetitionMaxRepeats, 30),
	)
}

func toTokenizerMessages(msgs []types.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func toAPIChoices(choices []llm.ChatChoice) []api.ChatChoice {
	out := make([]api.ChatChoice, len(choices))
	for i, c := range choices {
		out[i] = api.ChatChoice{Index: c.Index, FinishReason: c.FinishReason, Message: c.Message}
	}
	return out
}

func completionText(resp *llm.ChatResponse) string {
	var sb strings.Builder
	for _, c := range resp.Choices {
		sb.WriteString(c.Message.Content)
	}
	return sb.String()
}

// unitsToDecimal renders a fixed-point amount in metering.Scale units as a
// whole-unit decimal string with four fraction digits (e.g. 8000 units ->
// "0.8000" credits), avoiding
// float rounding in transit. credits_charged and remaining_balance use
// this directly; cost_usd applies it to the same units under the
// gateway's configured credit-to-USD peg of 1 credit == $1.
func unitsToDecimal(units int64) string {
	whole := units / metering.Scale
	frac := units % metering.Scale
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%04d", frac)
}

// creditsToUSD renders a fixed-point credit amount as a decimal USD
// string under the gateway's 1 credit == $1 peg.
func creditsToUSD(units int64) string {
	return unitsToDecimal(units)
}
