package handlers

import (
	"net/http"

	"github.com/complicesconecta/backend/internal/middleware"
	"github.com/complicesconecta/backend/internal/models"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux. Every /api/v1 route requires a
// bearer token.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	gallery := GalleryHandler{Gallery: deps.Gallery, Gates: deps.Gates}
	requests := AccessRequestHandler{Ledger: deps.Ledger}
	gate := ParentalHandler{Gates: deps.Gates}
	wallets := WalletHandler{Wallets: deps.Wallets, Network: deps.Network}
	nfts := NFTHandler{NFTs: deps.NFTs}

	authed := middleware.Authenticator(deps.Tokens)
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return authed(middleware.RateLimit(deps.Limiter, scope)(h))
	}
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	mux.HandleFunc("GET /healthz", health.Handle)

	handle("GET /api/v1/users/{ownerId}/gallery", gallery.View)
	handle("PATCH /api/v1/media/{id}/visibility", gallery.SetVisibility)
	handle("DELETE /api/v1/media/{id}", gallery.Delete)

	mux.Handle("POST /api/v1/access-requests", limited("access_request", requests.Create))
	handle("POST /api/v1/access-requests/{id}/decision", requests.Decide)
	handle("GET /api/v1/access-requests/status", requests.Status)
	handle("GET /api/v1/access-requests/incoming", requests.Incoming)

	handle("GET /api/v1/parental", gate.Get)
	handle("DELETE /api/v1/parental", gate.End)
	mux.Handle("POST /api/v1/parental/unlock", limited("parental_unlock", gate.Unlock))
	handle("POST /api/v1/parental/lock", gate.Lock)
	handle("PUT /api/v1/parental/level", gate.SetLevel)

	handle("POST /api/v1/wallet", wallets.GetOrCreate)

	handle("GET /api/v1/nfts", nfts.List)
	handle("POST /api/v1/nfts", nfts.Mint)
	handle("POST /api/v1/couple-nfts", nfts.RequestCouple)
	handle("GET /api/v1/couple-nfts/{id}", nfts.GetCouple)
	handle("POST /api/v1/couple-nfts/{id}/approve", nfts.Approve)
	handle("POST /api/v1/couple-nfts/{id}/cancel", nfts.Cancel)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB      Pinger
	Tokens  middleware.TokenVerifier
	Limiter middleware.RateLimiter
	Gallery GalleryService
	Ledger  AccessLedger
	Gates   GateManager
	Wallets WalletService
	NFTs    NFTService
	Network models.Network
}
