package relayer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"claimcode/internal/escrow"

	"github.com/stretchr/testify/require"
)

func TestClientRequestFunding(t *testing.T) {
	f := newSimServer(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	recipient, err := escrow.GenerateAccount()
	require.NoError(t, err)

	client := NewClient(ts.URL+"/", testSecret)
	resp, err := client.RequestFunding(context.Background(), recipient.Address, "")
	require.NoError(t, err)
	require.Equal(t, recipient.Address.Hex(), resp.Address)
	require.NotEmpty(t, resp.RequestID)

	bal, err := f.session.Balances(context.Background(), recipient.Address)
	require.NoError(t, err)
	require.True(t, bal.Native.IsPositive())
}

func TestClientSurfacesErrors(t *testing.T) {
	f := newSimServer(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	recipient, err := escrow.GenerateAccount()
	require.NoError(t, err)

	_, err = NewClient(ts.URL, "wrong-secret").RequestFunding(context.Background(), recipient.Address, "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")

	down := httptest.NewServer(http.NotFoundHandler())
	defer down.Close()
	_, err = NewClient(down.URL, testSecret).RequestFunding(context.Background(), recipient.Address, "k")
	require.ErrorContains(t, err, "404")
}

func TestClientRejectsResponseForAnotherAddress(t *testing.T) {
	other, err := escrow.GenerateAccount()
	require.NoError(t, err)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(FundResponse{Address: other.Address.Hex(), NativeTxHash: "0x01"})
	}))
	defer ts.Close()

	recipient, err := escrow.GenerateAccount()
	require.NoError(t, err)
	_, err = NewClient(ts.URL, testSecret).RequestFunding(context.Background(), recipient.Address, "k")
	require.ErrorContains(t, err, recipient.Address.Hex())
}
