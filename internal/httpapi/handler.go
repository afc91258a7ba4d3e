package httpapi

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/hunterwarburton/solportal/internal/airdrop"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/imageutils"
	"github.com/hunterwarburton/solportal/internal/logger"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/tokens"
	"github.com/valyala/fasthttp"
)

const defaultRequestTimeout = 30 * time.Second

// Handler serves the read-only JSON API.
type Handler struct {
	tokens   *tokens.Service
	balances *airdrop.Requester
	images   *imageutils.Resolver
	timeout  time.Duration
}

func NewHandler(tokenSvc *tokens.Service, balances *airdrop.Requester, images *imageutils.Resolver) *Handler {
	return &Handler{
		tokens:   tokenSvc,
		balances: balances,
		images:   images,
		timeout:  defaultRequestTimeout,
	}
}

type balanceResponse struct {
	Network core.Network `json:"network"`
	Owner   string       `json:"owner"`
	SOL     string       `json:"sol"`
}

type imageResponse struct {
	ID   int    `json:"id"`
	Mint string `json:"mint"`
	imageutils.Image
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter registers the API routes.
func NewRouter(h *Handler) *router.Router {
	r := router.New()
	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("OK")
	})
	r.GET("/v1/{network}/balance/{owner}", h.GetBalance)
	r.GET("/v1/{network}/tokens/{owner}", h.GetTokens)
	r.GET("/v1/{network}/tokens/{owner}/{id:[0-9]+}/image", h.GetTokenImage)
	return r
}

// WithRequestLog logs every request at debug level.
func WithRequestLog(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		logger.Debug("%s %s -> %d (%s)", ctx.Method(), ctx.RequestURI(), ctx.Response.StatusCode(), time.Since(start))
	}
}

// GetBalance handles requests for the SOL balance of an owner.
func (h *Handler) GetBalance(ctx *fasthttp.RequestCtx) {
	network, owner, ok := pathParams(ctx)
	if !ok {
		return
	}
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	bal, err := h.balances.Balance(c, network, owner)
	if err != nil {
		logger.Error("Balance lookup for %s on %s failed: %v", owner, network, err)
		writeJSON(ctx, fasthttp.StatusBadGateway, errorResponse{Error: "balance lookup failed"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, balanceResponse{Network: network, Owner: owner, SOL: bal.String()})
}

// GetTokens handles requests for an owner's token snapshot.
func (h *Handler) GetTokens(ctx *fasthttp.RequestCtx) {
	network, owner, ok := pathParams(ctx)
	if !ok {
		return
	}
	snap, ok := h.discover(ctx, network, owner)
	if !ok {
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, snap)
}

// GetTokenImage resolves the image of one token from a fresh snapshot.
func (h *Handler) GetTokenImage(ctx *fasthttp.RequestCtx) {
	network, owner, ok := pathParams(ctx)
	if !ok {
		return
	}
	id, err := strconv.Atoi(userValue(ctx, "id"))
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: "invalid token id"})
		return
	}
	snap, ok := h.discover(ctx, network, owner)
	if !ok {
		return
	}
	rec, found := snap.Find(id)
	if !found {
		writeJSON(ctx, fasthttp.StatusNotFound, errorResponse{Error: "token not found"})
		return
	}

	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	img := h.images.Resolve(c, rec)
	writeJSON(ctx, fasthttp.StatusOK, imageResponse{ID: rec.ID, Mint: rec.MintAddress, Image: img})
}

func (h *Handler) discover(ctx *fasthttp.RequestCtx, network core.Network, owner string) (core.Snapshot, bool) {
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	snap, err := h.tokens.Discover(c, owner, network)
	if err != nil {
		logger.TokenError("Discovery for %s on %s failed: %v", owner, network, err)
		writeJSON(ctx, fasthttp.StatusBadGateway, errorResponse{Error: "token discovery failed"})
		return core.Snapshot{}, false
	}
	return snap, true
}

// pathParams validates the network and owner segments. It writes a 400 and
// returns false when either is invalid.
func pathParams(ctx *fasthttp.RequestCtx) (core.Network, string, bool) {
	network, err := core.ParseNetwork(userValue(ctx, "network"))
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", "", false
	}
	owner := userValue(ctx, "owner")
	if _, err := sol.ParseAddress(owner); err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", "", false
	}
	return network, owner, true
}

func userValue(ctx *fasthttp.RequestCtx, key string) string {
	v, _ := ctx.UserValue(key).(string)
	return v
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
