package alert

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

func TestFormatMintUsesMintGlyphAndVerb(t *testing.T) {
	rec := model.AlertRecord{
		Token:       common.HexToAddress("0x1000000000000000000000000000000000000a"),
		TokenSymbol: "WHL",
		Chain:       "ethereum",
		Whale:       common.HexToAddress("0xA0000000000000000000000000000000000002"),
		Rank:        3,
		Kind:        model.KindMint,
		Amount:      big.NewFloat(5),
		USDValue:    10,
		TxHash:      common.HexToHash("0xdeadbeef"),
		BlockNumber: 100,
	}
	desc := model.ChainDescriptor{DisplayName: "Ethereum", ExplorerBaseURL: "https://etherscan.io"}

	text := Format(rec, desc)
	assert.Contains(t, text, "🌱")
	assert.Contains(t, text, "minted")
	assert.Contains(t, text, "Rank #3")
	assert.Contains(t, text, "https://etherscan.io/tx/")
}

func TestFormatAmountSuffixesLargeValues(t *testing.T) {
	assert.Equal(t, "1.50K", formatAmount(1500))
	assert.Equal(t, "2.00M", formatAmount(2_000_000))
	assert.Equal(t, "3.00B", formatAmount(3_000_000_000))
	assert.Equal(t, "42.00", formatAmount(42))
}

func TestFormatPriceAdaptsToMagnitude(t *testing.T) {
	assert.Equal(t, "$1.2346", formatPrice(1.23456789))
	assert.Equal(t, "$0.000123", formatPrice(0.0001234))
	assert.Equal(t, "$0.0000001235", formatPrice(0.00000012345))
}

func TestTelegramSinkPostsExpectedPayload(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := &TelegramSink{BotToken: "tok", ChatID: "123", BaseURL: server.URL, HTTPClient: server.Client()}
	require.NoError(t, sink.Send(context.Background(), "hello"))
	assert.Equal(t, "/bottok/sendMessage", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Zero(t, sink.ErrorCount())
}

func TestTelegramSinkNon200IncrementsErrorCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := &TelegramSink{BotToken: "tok", ChatID: "123", BaseURL: server.URL, HTTPClient: server.Client()}
	err := sink.Send(context.Background(), "hello")
	assert.Error(t, err)
	assert.EqualValues(t, 1, sink.ErrorCount())
}

func TestNotifierAlertDeliversFormattedText(t *testing.T) {
	var delivered string
	fake := &fakeSink{onSend: func(text string) { delivered = text }}
	n := &Notifier{Sink: fake}

	rec := model.AlertRecord{Kind: model.KindBuy, Amount: big.NewFloat(1), TokenSymbol: "WHL"}
	require.NoError(t, n.Alert(context.Background(), rec, model.ChainDescriptor{DisplayName: "BSC"}))
	assert.Contains(t, delivered, "🟢")
}

type fakeSink struct {
	onSend func(text string)
}

func (f *fakeSink) Send(ctx context.Context, text string) error {
	f.onSend(text)
	return nil
}
