package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"paper-trader/internal/models"
	"paper-trader/internal/store"
	"paper-trader/pkg/fixed"
	"paper-trader/pkg/utils"
)

// Spot index symbols on the NSE segment, keyed by underlying.
var spotSymbols = map[models.Underlying]string{
	models.Nifty:     "NIFTY 50",
	models.BankNifty: "NIFTY BANK",
	models.FinNifty:  "NIFTY FIN SERVICE",
}

// InstrumentLoader refreshes the instrument master from the broker's daily
// dump. The dump covers the whole exchange; only contracts for the
// configured underlyings are kept.
type InstrumentLoader struct {
	client *kiteconnect.Client
	store  *store.SQLiteStore
	log    zerolog.Logger
}

// NewInstrumentLoader creates a loader writing into the given store.
func NewInstrumentLoader(apiKey, accessToken string, st *store.SQLiteStore, log zerolog.Logger) *InstrumentLoader {
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	return &InstrumentLoader{client: client, store: st, log: log}
}

// Refresh fetches the NFO derivatives dump plus the NSE index entries for
// the given underlyings, drops expired contracts, and upserts the rest
// into the store.
func (l *InstrumentLoader) Refresh(ctx context.Context, underlyings ...models.Underlying) ([]models.Instrument, error) {
	wanted := make(map[string]models.Underlying, len(underlyings))
	for _, u := range underlyings {
		wanted[string(u)] = u
	}

	nfo, err := l.client.GetInstrumentsByExchange("NFO")
	if err != nil {
		return nil, fmt.Errorf("fetching NFO instrument dump: %w", err)
	}

	cutoff := startOfDay(time.Now())
	var out []models.Instrument
	for _, raw := range nfo {
		u, ok := wanted[raw.Name]
		if !ok {
			continue
		}
		inst, ok := convertInstrument(raw, u, cutoff)
		if !ok {
			continue
		}
		out = append(out, inst)
	}

	nse, err := l.client.GetInstrumentsByExchange("NSE")
	if err != nil {
		return nil, fmt.Errorf("fetching NSE instrument dump: %w", err)
	}
	for _, raw := range nse {
		for _, u := range underlyings {
			if raw.Tradingsymbol != spotSymbols[u] {
				continue
			}
			out = append(out, models.Instrument{
				Token:      uint32(raw.InstrumentToken),
				Symbol:     raw.Tradingsymbol,
				Underlying: u,
				Type:       models.InstrumentSpot,
				TickSize:   fixed.FromFloat64(raw.TickSize),
			})
		}
	}

	if err := l.store.UpsertInstruments(ctx, out); err != nil {
		return nil, fmt.Errorf("storing instrument master: %w", err)
	}

	l.log.Info().Int("count", len(out)).Msg("instrument master refreshed")
	return out, nil
}

// convertInstrument maps a broker dump row to a contract. Rows for expired
// contracts or unsupported instrument types are dropped.
func convertInstrument(raw kiteconnect.Instrument, u models.Underlying, cutoff time.Time) (models.Instrument, bool) {
	var typ models.InstrumentType
	switch raw.InstrumentType {
	case "CE":
		typ = models.InstrumentCE
	case "PE":
		typ = models.InstrumentPE
	case "FUT":
		typ = models.InstrumentFUT
	default:
		return models.Instrument{}, false
	}
	if raw.Expiry.Time.Before(cutoff) {
		return models.Instrument{}, false
	}

	return models.Instrument{
		Token:      uint32(raw.InstrumentToken),
		Symbol:     raw.Tradingsymbol,
		Underlying: u,
		Type:       typ,
		Strike:     fixed.FromFloat64(raw.StrikePrice),
		Expiry:     raw.Expiry.Time,
		LotSize:    int(raw.LotSize),
		TickSize:   fixed.FromFloat64(raw.TickSize),
	}, true
}

func startOfDay(now time.Time) time.Time {
	now = now.In(utils.IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, utils.IndiaLocation)
}
