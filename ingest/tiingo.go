// Copyright 2022-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/folio-vault/fv-api/common"
	"github.com/folio-vault/fv-api/observability/opentelemetry"
	"github.com/folio-vault/fv-api/prices"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tiingoAPI = "https://api.tiingo.com"

type Tiingo struct {
	apikey string

	// Client is exported so tests can attach an httpmock transport
	Client *http.Client
}

type tiingoBarJSON struct {
	Date        string  `json:"date"`
	Close       float64 `json:"close"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Open        float64 `json:"open"`
	Volume      int64   `json:"volume"`
	AdjClose    float64 `json:"adjClose"`
	AdjHigh     float64 `json:"adjHigh"`
	AdjLow      float64 `json:"adjLow"`
	AdjOpen     float64 `json:"adjOpen"`
	AdjVolume   int64   `json:"adjVolume"`
	DivCash     float64 `json:"divCash"`
	SplitFactor float64 `json:"splitFactor"`
}

type tiingoMetaJSON struct {
	Ticker       string `json:"ticker"`
	Name         string `json:"name"`
	ExchangeCode string `json:"exchangeCode"`
}

// NewTiingo creates a tiingo data provider using the api token from
// configuration
func NewTiingo() *Tiingo {
	timeout := viper.GetDuration("tiingo.timeout")
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Tiingo{
		apikey: viper.GetString("tiingo.token"),
		Client: &http.Client{Timeout: timeout},
	}
}

// get performs a provider request and classifies the outcome. Every failure
// maps onto the ErrRateLimited / ErrSymbolNotFound / ErrTransient taxonomy.
func (t *Tiingo) get(ctx context.Context, url string, redacted string) ([]byte, error) {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.get")
	defer span.End()

	span.SetAttributes(attribute.KeyValue{
		Key:   "Url",
		Value: attribute.StringValue(redacted),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		span.RecordError(err)
		msg := "tiingo http request failed"
		span.SetStatus(codes.Error, msg)
		log.Warn().Err(err).Str("Url", redacted).Msg(msg)
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		span.SetAttributes(attribute.KeyValue{
			Key:   "StatusCode",
			Value: attribute.IntValue(resp.StatusCode),
		})
		msg := "tiingo returned invalid response code"
		span.SetStatus(codes.Error, msg)
		log.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Str("Url", redacted).Msg(msg)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrSymbolNotFound
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status code %d", ErrTransient, resp.StatusCode)
		default:
			return nil, fmt.Errorf("%w: status code %d", ErrTransient, resp.StatusCode)
		}
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		msg := "could not read tiingo body"
		span.SetStatus(codes.Error, msg)
		log.Warn().Err(err).Msg(msg)
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}
	return body, nil
}

// FetchDailyBars retrieves daily OHLCV bars for symbol over [begin, end]
func (t *Tiingo) FetchDailyBars(ctx context.Context, symbol string, begin time.Time, end time.Time) ([]*prices.Bar, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.FetchDailyBars")
	defer span.End()

	subLog := log.With().Str("Symbol", symbol).Time("Begin", begin).Time("End", end).Logger()

	redacted := fmt.Sprintf("%s/tiingo/daily/%s/prices?startDate=%s&endDate=%s", tiingoAPI, symbol, begin.Format("2006-01-02"), end.Format("2006-01-02"))
	url := fmt.Sprintf("%s&token=%s", redacted, t.apikey)

	body, err := t.get(ctx, url, redacted)
	if err != nil {
		return nil, err
	}

	jsonResp := []tiingoBarJSON{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Bytes("Body", body).Msg("could not unmarshal json")
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	tz := common.GetTimezone()
	bars := make([]*prices.Bar, 0, len(jsonResp))
	for _, row := range jsonResp {
		dtParts := strings.Split(row.Date, "T")
		eventDate, err := time.ParseInLocation("2006-01-02", dtParts[0], tz)
		if err != nil {
			subLog.Error().Err(err).Str("DateStr", row.Date).Msg("cannot parse date string")
			return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
		}

		bars = append(bars, &prices.Bar{
			Symbol:   symbol,
			Date:     time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 16, 0, 0, 0, tz),
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			AdjClose: row.AdjClose,
			Volume:   row.Volume,
		})
	}
	return bars, nil
}

// FetchMeta retrieves reference data for symbol
func (t *Tiingo) FetchMeta(ctx context.Context, symbol string) (*Meta, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "tiingo.FetchMeta")
	defer span.End()

	redacted := fmt.Sprintf("%s/tiingo/daily/%s", tiingoAPI, symbol)
	url := fmt.Sprintf("%s?token=%s", redacted, t.apikey)

	body, err := t.get(ctx, url, redacted)
	if err != nil {
		return nil, err
	}

	jsonResp := tiingoMetaJSON{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		log.Error().Err(err).Str("Symbol", symbol).Bytes("Body", body).Msg("could not unmarshal json")
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	return &Meta{
		Symbol:   jsonResp.Ticker,
		Name:     jsonResp.Name,
		Exchange: jsonResp.ExchangeCode,
	}, nil
}
