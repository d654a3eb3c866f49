package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mleary/receiptdrop/internal/receipt"
)

var txCounter atomic.Int64

func newRouter() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	router.Route("/api/receipts", func(r chi.Router) {
		r.Post("/upload/", uploadReceipt)
		r.Post("/{transactionNumber}/update/", finalizeReceipt)
	})

	return router
}

type uploadResponse struct {
	TransactionNumber  string             `json:"transaction_number"`
	ParsedSuccessfully bool               `json:"parsed_successfully"`
	ParseError         string             `json:"parse_error,omitempty"`
	IsDuplicate        bool               `json:"is_duplicate"`
	NeedsReview        bool               `json:"needs_review"`
	ReviewReason       string             `json:"review_reason,omitempty"`
	Store              string             `json:"store,omitempty"`
	Date               time.Time          `json:"date,omitempty"`
	Subtotal           int64              `json:"subtotal,omitempty"`
	Tax                int64              `json:"tax,omitempty"`
	Total              int64              `json:"total,omitempty"`
	Items              []receipt.LineItem `json:"items,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func uploadReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	force := r.FormValue("force_update") == "true"
	name := strings.ToLower(header.Filename)
	txNumber := fmt.Sprintf("TX-%06d", txCounter.Add(1))

	var resp uploadResponse

	switch {
	case strings.Contains(name, "fail"):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "simulated backend failure"})
		return

	case strings.Contains(name, "dup") && !force:
		resp = uploadResponse{
			TransactionNumber: "TX-000001",
			IsDuplicate:       true,
		}

	case strings.Contains(name, "badparse"):
		resp = uploadResponse{
			TransactionNumber: txNumber,
			ParseError:        "could not locate a totals block",
		}

	case strings.Contains(name, "review"):
		resp = uploadResponse{
			TransactionNumber:  txNumber,
			ParsedSuccessfully: true,
			NeedsReview:        true,
			ReviewReason:       "ambiguous quantity on line 2",
			Store:              "Corner Grocery",
			Date:               time.Now().UTC().Truncate(time.Hour),
			Subtotal:           1250,
			Tax:                88,
			Total:              1338,
			Items: []receipt.LineItem{
				{Name: "Milk 1L", Quantity: 1, UnitPrice: 250, Total: 250},
				{Name: "Apples", Quantity: 0, UnitPrice: 500, Total: 1000},
			},
		}

	default:
		resp = uploadResponse{
			TransactionNumber:  txNumber,
			ParsedSuccessfully: true,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func finalizeReceipt(w http.ResponseWriter, r *http.Request) {
	txNumber := chi.URLParam(r, "transactionNumber")

	var corrected receipt.Parsed
	if err := json.NewDecoder(r.Body).Decode(&corrected); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	corrected.TransactionNumber = txNumber

	writeJSON(w, http.StatusOK, corrected)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
