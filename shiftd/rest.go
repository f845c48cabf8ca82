package shiftd

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	shift "github.com/shiftex/shift"
	"github.com/shiftex/shift/registry"
	"github.com/shopspring/decimal"
)

// restHandler serves the order form, trade lifecycle and history over a
// json REST api.
type restHandler struct {
	client *shift.Client
}

// newRestHandler builds the REST router for the given client.
func newRestHandler(client *shift.Client, corsOrigin string) http.Handler {
	handler := &restHandler{client: client}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	if corsOrigin != "" {
		router.Use(corsMiddleware(corsOrigin))
	}

	router.Route("/v1", func(r chi.Router) {
		r.Get("/tokens", handler.tokens)
		r.Get("/prices", handler.prices)
		r.Get("/history", handler.history)

		r.Route("/order", func(r chi.Router) {
			r.Get("/", handler.getOrder)
			r.Put("/", handler.updateOrder)
			r.Post("/confirm", handler.confirmOrder)
			r.Post("/addresses", handler.setAddresses)
		})

		r.Route("/trade", func(r chi.Router) {
			r.Post("/", handler.openTrade)
			r.Get("/", handler.getTrade)
			r.Delete("/", handler.cancelTrade)
			r.Post("/retry", handler.retryTrade)
		})
	})

	return router
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods",
				"GET, PUT, POST, DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(fn)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the client package's sentinel errors onto http status
// codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, shift.ErrNoPendingTrade),
		errors.Is(err, shift.ErrNoConfirmedOrder):

		status = http.StatusNotFound

	case errors.Is(err, shift.ErrTradeInFlight):
		status = http.StatusConflict

	case errors.Is(err, shift.ErrTradeNotFailed):
		status = http.StatusConflict

	case errors.Is(err, shift.ErrAmountBelowMinimum),
		errors.Is(err, shift.ErrInsufficientBalance),
		errors.Is(err, shift.ErrAddressesIncomplete),
		errors.Is(err, shift.ErrNoQuote),
		errors.Is(err, registry.ErrSameChainPair):

		status = http.StatusBadRequest
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type orderResponse struct {
	shift.OrderInputs

	ValidVolume       bool `json:"valid_volume"`
	SufficientBalance bool `json:"sufficient_balance"`
}

func (h *restHandler) orderState() orderResponse {
	orders := h.client.Orders()

	return orderResponse{
		OrderInputs:       orders.Inputs(),
		ValidVolume:       orders.ValidVolume(),
		SufficientBalance: orders.SufficientBalance(),
	}
}

func (h *restHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	send := r.URL.Query().Get("send")
	receive := r.URL.Query().Get("receive")
	if send != "" || receive != "" {
		err := h.client.Orders().Prepopulate(send, receive)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, h.orderState())
}

func (h *restHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	orders := h.client.Orders()
	query := r.URL.Query()

	if send := query.Get("send"); send != "" {
		err := orders.SetSrcToken(registry.Token(send))
		if err != nil {
			writeError(w, err)
			return
		}
	}

	if receive := query.Get("receive"); receive != "" {
		err := orders.SetDstToken(registry.Token(receive))
		if err != nil {
			writeError(w, err)
			return
		}
	}

	if amount := query.Get("amount"); amount != "" {
		value, err := decimal.NewFromString(amount)
		if err != nil {
			writeError(w, err)
			return
		}

		if err := orders.SetSrcAmount(value); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, h.orderState())
}

func (h *restHandler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.client.Orders().Confirm()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type addressesRequest struct {
	ToAddress     string `json:"to_address"`
	RefundAddress string `json:"refund_address"`
}

// setAddresses sets the confirmed order's destination and refund addresses.
// The entry order is direction dependent, so the fields are applied in
// whichever order the order book accepts.
func (h *restHandler) setAddresses(w http.ResponseWriter, r *http.Request) {
	var req addressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err)
		return
	}

	orders := h.client.Orders()

	apply := func(addr string, set func(string) error) error {
		if addr == "" {
			return nil
		}
		return set(addr)
	}

	order, err := orders.Confirmed()
	if err != nil {
		writeError(w, err)
		return
	}

	if order.Direction == registry.DirectionBurn {
		err = apply(req.RefundAddress, orders.SetRefundAddress)
		if err == nil {
			err = apply(req.ToAddress, orders.SetToAddress)
		}
	} else {
		err = apply(req.ToAddress, orders.SetToAddress)
		if err == nil {
			err = apply(req.RefundAddress, orders.SetRefundAddress)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	order, err = orders.Confirmed()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *restHandler) openTrade(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.OpenTrade(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

func (h *restHandler) getTrade(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.Trade()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (h *restHandler) retryTrade(w http.ResponseWriter, r *http.Request) {
	if err := h.client.RetryTrade(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) cancelTrade(w http.ResponseWriter, r *http.Request) {
	if err := h.client.CancelTrade(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) history(w http.ResponseWriter, r *http.Request) {
	events, err := h.client.History(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *restHandler) tokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, registry.Tokens())
}

func (h *restHandler) prices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.Prices())
}
