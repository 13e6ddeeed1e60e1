package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trade_sim/internal/domain"
)

// wireMessage is the L2 snapshot frame pushed by the venue gateway:
//
//	{"timestamp":"2025-05-04T10:39:13Z","exchange":"OKX","symbol":"BTC-USDT-SWAP",
//	 "asks":[["95445.5","9.06"],...],"bids":[["95445.4","1104.23"],...]}
//
// Prices and sizes arrive as text; bare JSON numbers are accepted too.
type wireMessage struct {
	Timestamp json.RawMessage  `json:"timestamp"`
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Asks      *[][]json.Number `json:"asks"`
	Bids      *[][]json.Number `json:"bids"`
}

var errMissing = errors.New("missing")

// ParseMessage decodes one feed frame into a BookSnapshot. An unparsable
// timestamp leaves Timestamp zero without failing the snapshot; anything
// wrong with the levels fails the whole message.
func ParseMessage(raw []byte, receivedAt time.Time) (*domain.BookSnapshot, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &domain.ParseError{Field: "message", Err: err}
	}
	if msg.Asks == nil {
		return nil, &domain.ParseError{Field: "asks", Err: errMissing}
	}
	if msg.Bids == nil {
		return nil, &domain.ParseError{Field: "bids", Err: errMissing}
	}

	asks, err := parseLevels("asks", *msg.Asks, ascending)
	if err != nil {
		return nil, err
	}
	bids, err := parseLevels("bids", *msg.Bids, descending)
	if err != nil {
		return nil, err
	}

	ts, _ := parseTimestamp(msg.Timestamp)

	return &domain.BookSnapshot{
		Exchange:   msg.Exchange,
		Symbol:     msg.Symbol,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
		Asks:       asks,
		Bids:       bids,
	}, nil
}

// priceOrder reports whether next may follow prev on a side.
type priceOrder func(prev, next float64) bool

func ascending(prev, next float64) bool  { return next > prev }
func descending(prev, next float64) bool { return next < prev }

func parseLevels(side string, raw [][]json.Number, inOrder priceOrder) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		field := fmt.Sprintf("%s[%d]", side, i)
		if len(pair) != 2 {
			return nil, &domain.ParseError{Field: field, Err: fmt.Errorf("want [price, size], got %d values", len(pair))}
		}

		price, err := decimal.NewFromString(pair[0].String())
		if err != nil {
			return nil, &domain.ParseError{Field: field + ".price", Err: err}
		}
		if !price.IsPositive() {
			return nil, &domain.ParseError{Field: field + ".price", Err: fmt.Errorf("must be positive, got %s", price)}
		}

		size, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			return nil, &domain.ParseError{Field: field + ".size", Err: err}
		}
		if size.IsNegative() {
			return nil, &domain.ParseError{Field: field + ".size", Err: fmt.Errorf("must not be negative, got %s", size)}
		}

		p, q := price.InexactFloat64(), size.InexactFloat64()
		if math.IsInf(p, 0) || math.IsNaN(p) || p <= 0 {
			return nil, &domain.ParseError{Field: field + ".price", Err: fmt.Errorf("out of range: %s", pair[0])}
		}
		if math.IsInf(q, 0) || math.IsNaN(q) {
			return nil, &domain.ParseError{Field: field + ".size", Err: fmt.Errorf("out of range: %s", pair[1])}
		}
		if i > 0 && !inOrder(levels[i-1].Price, p) {
			return nil, &domain.ParseError{Field: field + ".price",
				Err: fmt.Errorf("%s out of order: %v after %v", side, p, levels[i-1].Price)}
		}

		levels = append(levels, domain.PriceLevel{Price: p, Size: q})
	}
	return levels, nil
}

// parseTimestamp accepts RFC 3339 text or unix milliseconds (number or digits).
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, &domain.ParseError{Field: "timestamp", Err: errMissing}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		// Not a string, try a bare number
		text = string(raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, &domain.ParseError{Field: "timestamp", Err: errMissing}
	}

	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, &domain.ParseError{Field: "timestamp", Err: err}
	}
	return ts, nil
}
