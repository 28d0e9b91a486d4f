package trade_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberlabs/furnace/pkg/pipeline"
	"github.com/emberlabs/furnace/pkg/trade"
	furnacetesting "github.com/emberlabs/furnace/utils/pkg/testing"
)

func newClient(t *testing.T, handler http.Handler) *trade.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := trade.New(trade.Config{
		Logger:  furnacetesting.NewLogger(),
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestFurnace_Trade(t *testing.T) {
	t.Parallel()

	t.Run("claimable fees", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method)
			require.Equal(t, "/creator-fees", r.URL.Path)
			require.Equal(t, "wallet-address", r.URL.Query().Get("wallet"))
			_ = json.NewEncoder(w).Encode(map[string]any{"claimableLamports": 20_000_000})
		}))

		fees, err := c.ClaimableFees(context.Background(), "wallet-address")
		require.NoError(t, err)
		require.Equal(t, uint64(20_000_000), fees)
	})

	t.Run("build claim transaction", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/trade-local", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "collectCreatorFee", body["action"])
			require.Equal(t, "wallet-address", body["publicKey"])

			_ = json.NewEncoder(w).Encode(map[string]string{"transaction": "serialized-tx"})
		}))

		tx, err := c.BuildClaimTransaction(context.Background(), "wallet-address")
		require.NoError(t, err)
		require.Equal(t, "serialized-tx", tx)
	})

	t.Run("build buy transaction denominates in lamports", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "buy", body["action"])
			require.Equal(t, "mint-address", body["mint"])
			require.Equal(t, float64(9_250_000), body["amount"])
			require.Equal(t, true, body["denominatedInLamports"])

			_ = json.NewEncoder(w).Encode(map[string]string{"transaction": "serialized-buy-tx"})
		}))

		tx, err := c.BuildBuyTransaction(context.Background(), "wallet-address", "mint-address", 9_250_000)
		require.NoError(t, err)
		require.Equal(t, "serialized-buy-tx", tx)
	})

	t.Run("4xx surfaces as trade rejection", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "nothing to claim"})
		}))

		_, err := c.BuildClaimTransaction(context.Background(), "wallet-address")
		var rejected *pipeline.TradeRejectedError
		require.ErrorAs(t, err, &rejected)
		require.Contains(t, rejected.Message, "nothing to claim")
	})

	t.Run("5xx is not a rejection", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		_, err := c.BuildClaimTransaction(context.Background(), "wallet-address")
		require.Error(t, err)
		var rejected *pipeline.TradeRejectedError
		require.False(t, errors.As(err, &rejected))
	})

	t.Run("empty transaction is a rejection", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"transaction": ""})
		}))

		_, err := c.BuildClaimTransaction(context.Background(), "wallet-address")
		var rejected *pipeline.TradeRejectedError
		require.ErrorAs(t, err, &rejected)
	})
}
