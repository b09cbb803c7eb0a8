// Package api provides the HTTP control surface for running games.
// GET endpoints are public. Mutations require a bearer token when an admin
// key is configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/market"
	"github.com/talgya/mini-economy/internal/persistence"
)

const (
	maxStreamConns    = 32
	defaultHistoryLen = 100
	defaultDepth      = 10
)

// Server serves running games over HTTP.
type Server struct {
	games       *engine.Manager
	db          *persistence.DB // nil when storage is disabled
	port        int
	adminKey    string
	corsOrigins map[string]bool
	limiter     *RateLimiter
	upgrader    websocket.Upgrader

	streams atomic.Int32
}

// NewServer creates a server. db may be nil.
func NewServer(games *engine.Manager, db *persistence.DB, cfg config.ServerConfig) *Server {
	s := &Server{
		games:       games,
		db:          db,
		port:        cfg.Port,
		adminKey:    cfg.AdminKey,
		corsOrigins: make(map[string]bool),
	}
	for _, o := range cfg.CORSOrigins {
		s.corsOrigins[o] = true
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitPerMinute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/catalog", s.handleCatalog)

	r.Route("/api/v1/games", func(r chi.Router) {
		r.Get("/", s.handleListGames)
		r.With(s.adminOnly).Post("/", s.handleCreateGame)

		r.Route("/{gameID}", func(r chi.Router) {
			r.Use(s.withGame)
			r.Get("/", s.handleGame)
			r.Get("/stream", s.handleStream)
			r.Get("/buildings", s.handleBuildings)
			r.Get("/account", s.handleAccount)
			r.Get("/orders", s.handleOrders)
			r.Get("/prices", s.handlePrices)
			r.Get("/prices/{goodsID}", s.handlePriceState)
			r.Get("/prices/{goodsID}/history", s.handlePriceHistory)
			r.Get("/trades/{goodsID}", s.handleTrades)
			r.Get("/depth/{goodsID}", s.handleDepth)
			r.Get("/research", s.handleResearch)
			r.Get("/autotrade", s.handleAutoTrade)

			r.Group(func(r chi.Router) {
				r.Use(s.adminOnly)
				r.Delete("/", s.handleDestroyGame)
				r.Post("/reset", s.handleResetGame)
				r.Post("/speed", s.handleSpeed)
				r.Post("/pause", s.handlePause)
				r.Post("/buildings", s.handlePurchaseBuilding)
				r.Post("/buildings/{buildingID}/method", s.handleSwitchMethod)
				r.Post("/buildings/{buildingID}/pause", s.handlePauseBuilding)
				r.Post("/orders", s.handleSubmitOrder)
				r.Delete("/orders/{orderID}", s.handleCancelOrder)
				r.Put("/autotrade", s.handleConfigureAutoTrade)
				r.Post("/research", s.handleStartResearch)
			})
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.adminKey != "", "rate_limited", s.limiter != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		slog.Info("HTTP API stopped")
		return nil
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.corsOrigins["*"] || s.corsOrigins[origin]
}

// cors adds CORS headers for allowed frontend origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == s.adminKey
}

// adminOnly requires the admin bearer token when one is configured.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey != "" && !s.checkBearerToken(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type gameKey struct{}

// withGame resolves {gameID} for the nested routes.
func (s *Server) withGame(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, err := s.games.Get(chi.URLParam(r, "gameID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), gameKey{}, g)))
	})
}

func gameFrom(r *http.Request) *engine.Game {
	return r.Context().Value(gameKey{}).(*engine.Game)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"games":      len(s.games.List()),
		"storage":    s.db != nil,
		"streams":    s.streams.Load(),
		"admin_auth": s.adminKey != "",
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat := s.games.Catalog()
	writeJSON(w, map[string]any{
		"goods":     cat.AllGoods(),
		"buildings": cat.Buildings(),
	})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.games.List())
}

type createGameRequest struct {
	Seed             *int64   `json:"seed"`
	StartingCash     *float64 `json:"starting_cash"`
	AICompanies      *int     `json:"ai_companies"`
	Speed            *float64 `json:"speed"`
	AutoTrade        *bool    `json:"auto_trade"`
	StarterBuildings []string `json:"starter_buildings"`
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	opts := s.games.Defaults()
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if req.StartingCash != nil {
		opts.StartingCash = *req.StartingCash
	}
	if req.AICompanies != nil {
		opts.AICompanies = *req.AICompanies
	}
	if req.Speed != nil {
		opts.Speed = *req.Speed
	}
	if req.AutoTrade != nil {
		opts.AutoTrade = *req.AutoTrade
	}
	if req.StarterBuildings != nil {
		opts.StarterBuildings = req.StarterBuildings
	}

	g, err := s.games.Create(&opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("game created", "game", g.ID, "seed", opts.Seed)
	writeJSONStatus(w, http.StatusCreated, gameSummary(g))
}

func gameSummary(g *engine.Game) map[string]any {
	speed, paused := g.Speed()
	out := map[string]any{
		"id":      g.ID,
		"tick":    g.Tick(),
		"speed":   speed,
		"paused":  paused,
		"created": g.Created,
	}
	if u, ok := g.Last(); ok {
		out["last"] = u
	}
	return out
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gameSummary(gameFrom(r)))
}

func (s *Server) handleDestroyGame(w http.ResponseWriter, r *http.Request) {
	id := gameFrom(r).ID
	if err := s.games.Destroy(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.games.Reset(gameFrom(r).ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, gameSummary(g))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	g := gameFrom(r)
	if err := g.SetSpeed(req.Speed); err != nil {
		writeErr(w, err)
		return
	}
	slog.Info("speed changed", "game", g.ID, "speed", req.Speed)
	speed, paused := g.Speed()
	writeJSON(w, map[string]any{"speed": speed, "paused": paused})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	g := gameFrom(r)
	paused := g.TogglePause()
	speed, _ := g.Speed()
	writeJSON(w, map[string]any{"speed": speed, "paused": paused})
}

func companyParam(r *http.Request) economy.CompanyID {
	if c := r.URL.Query().Get("company"); c != "" {
		return economy.CompanyID(c)
	}
	return engine.PlayerID
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	company := economy.CompanyID(r.URL.Query().Get("company"))
	buildings := gameFrom(r).Buildings(company)
	type buildingView struct {
		engine.BuildingInstance
		AvgProfitPerTick float64 `json:"avg_profit_per_tick"`
	}
	out := make([]buildingView, 0, len(buildings))
	for i := range buildings {
		out = append(out, buildingView{BuildingInstance: buildings[i], AvgProfitPerTick: buildings[i].AvgProfitPerTick()})
	}
	writeJSON(w, out)
}

func (s *Server) handlePurchaseBuilding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildingDefID string `json:"building_def_id"`
		X             int    `json:"x"`
		Y             int    `json:"y"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := gameFrom(r).PurchaseBuilding(req.BuildingDefID, engine.Position{X: req.X, Y: req.Y})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, b)
}

func (s *Server) handleSwitchMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MethodID string `json:"method_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := gameFrom(r).SwitchBuildingMethod(chi.URLParam(r, "buildingID"), req.MethodID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"building_id": chi.URLParam(r, "buildingID"), "method_id": req.MethodID})
}

func (s *Server) handlePauseBuilding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := gameFrom(r).SetBuildingPaused(chi.URLParam(r, "buildingID"), req.Paused); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"building_id": chi.URLParam(r, "buildingID"), "paused": req.Paused})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	snap, ok := gameFrom(r).Account(companyParam(r))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown company")
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders := gameFrom(r).Orders(companyParam(r))
	if orders == nil {
		orders = []market.Order{}
	}
	writeJSON(w, orders)
}

type orderRequest struct {
	CompanyID string  `json:"company_id"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	GoodsID   string  `json:"goods_id"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	TTL       uint64  `json:"ttl"`
}

func (req orderRequest) toEngine() (engine.OrderRequest, error) {
	out := engine.OrderRequest{
		Owner:    economy.CompanyID(req.CompanyID),
		GoodsID:  catalog.GoodsID(req.GoodsID),
		Quantity: req.Quantity,
		Price:    req.Price,
		TTL:      req.TTL,
	}
	if err := out.Side.UnmarshalText([]byte(req.Side)); err != nil {
		return out, fmt.Errorf("side must be buy or sell")
	}
	switch req.Type {
	case "", "limit":
		out.Type = market.Limit
	case "market":
		out.Type = market.MarketOrder
	default:
		return out, fmt.Errorf("type must be limit or market")
	}
	return out, nil
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := req.toEngine()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := gameFrom(r).SubmitOrder(order)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := gameFrom(r).CancelOrder(companyParam(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, o)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gameFrom(r).Prices())
}

func (s *Server) handlePriceState(w http.ResponseWriter, r *http.Request) {
	n := intQuery(r, "history", defaultHistoryLen)
	st, ok := gameFrom(r).PriceState(catalog.GoodsID(chi.URLParam(r, "goodsID")), n)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown goods")
		return
	}
	writeJSON(w, st)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusNotImplemented, "storage disabled")
		return
	}
	points, err := s.db.PriceHistory(gameFrom(r).ID, chi.URLParam(r, "goodsID"), intQuery(r, "limit", 500))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, points)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusNotImplemented, "storage disabled")
		return
	}
	trades, err := s.db.RecentTrades(gameFrom(r).ID, chi.URLParam(r, "goodsID"), intQuery(r, "limit", 100))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, trades)
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	d, err := gameFrom(r).Depth(catalog.GoodsID(chi.URLParam(r, "goodsID")), intQuery(r, "levels", defaultDepth))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gameFrom(r).Research())
}

func (s *Server) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := gameFrom(r).StartResearch(req.ProjectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, a)
}

func (s *Server) handleAutoTrade(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, gameFrom(r).AutoTradeConfig())
}

func (s *Server) handleConfigureAutoTrade(w http.ResponseWriter, r *http.Request) {
	var cfg engine.AutoTradeConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	g := gameFrom(r)
	if err := g.ConfigureAutoTrade(cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, g.AutoTradeConfig())
}

func intQuery(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// writeErr maps engine errors to status codes. Validation failures carry the
// explanation shown to the player.
func writeErr(w http.ResponseWriter, err error) {
	var ve *engine.ValidationError
	switch {
	case errors.Is(err, engine.ErrGameNotFound), errors.Is(err, market.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrTooManyGames):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
