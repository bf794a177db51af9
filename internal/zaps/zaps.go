// Package zaps totals the lightning zaps a note has received.
package zaps

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sandwichfarm/laostr/internal/ops"
)

// KindZapReceipt is a NIP-57 zap receipt
const KindZapReceipt = 9735

// DefaultLimit caps how many receipts one lookup reads
const DefaultLimit = 100

// ErrInvoice is returned for a bolt11 invoice whose amount cannot be read
var ErrInvoice = errors.New("malformed invoice")

// hrp is the human readable part of a bolt11 invoice: ln, the network,
// then an optional amount with an optional multiplier.
var hrp = regexp.MustCompile(`^ln(bcrt|bc|tbs|tb|sb)(\d*)([munp]?)$`)

// Gateway is the relay access zap lookups need
type Gateway interface {
	Query(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// Stats is what a note has been zapped
type Stats struct {
	Count     int
	TotalSats int64
}

// Counter looks up zap receipts for notes
type Counter struct {
	gateway Gateway
	logger  *ops.Logger
	limit   int
}

// New creates a zap counter
func New(gw Gateway, logger *ops.Logger) *Counter {
	if logger == nil {
		logger = ops.Discard()
	}
	return &Counter{gateway: gw, logger: logger.WithComponent("zaps"), limit: DefaultLimit}
}

// GetZapStats counts the receipts that reference noteID and sums their sats.
// A receipt whose amount cannot be read still counts but adds nothing.
func (c *Counter) GetZapStats(ctx context.Context, noteID string) (Stats, error) {
	events, err := c.gateway.Query(ctx, nostr.Filter{
		Kinds: []int{KindZapReceipt},
		Tags:  nostr.TagMap{"e": []string{noteID}},
		Limit: c.limit,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query zaps: %w", err)
	}

	var stats Stats
	seen := make(map[string]bool, len(events))
	for _, event := range events {
		if event == nil || event.Kind != KindZapReceipt || seen[event.ID] {
			continue
		}
		seen[event.ID] = true
		stats.Count++

		sats, err := ReceiptSats(event)
		if err != nil {
			c.logger.Debug("skipping zap amount", "id", event.ID, "error", err)
			continue
		}
		stats.TotalSats += sats
	}
	return stats, nil
}

// ReceiptSats reads the sats a receipt carries. The amount tag (millisats)
// wins; otherwise the bolt11 invoice amount is used.
func ReceiptSats(event *nostr.Event) (int64, error) {
	if tag := event.Tags.Find("amount"); len(tag) >= 2 {
		msats, err := strconv.ParseInt(strings.TrimSpace(tag[1]), 10, 64)
		if err == nil && msats >= 0 {
			return msats / 1000, nil
		}
	}
	if tag := event.Tags.Find("bolt11"); len(tag) >= 2 {
		return InvoiceSats(tag[1])
	}
	return 0, fmt.Errorf("%w: no amount or bolt11 tag", ErrInvoice)
}

// InvoiceSats extracts the amount in satoshis from a bolt11 invoice.
// An invoice without an amount is worth zero.
func InvoiceSats(invoice string) (int64, error) {
	invoice = strings.ToLower(strings.TrimSpace(invoice))
	invoice = strings.TrimPrefix(invoice, "lightning:")

	sep := strings.LastIndexByte(invoice, '1')
	if sep <= 0 {
		return 0, fmt.Errorf("%w: no separator", ErrInvoice)
	}
	m := hrp.FindStringSubmatch(invoice[:sep])
	if m == nil {
		return 0, fmt.Errorf("%w: bad prefix %q", ErrInvoice, invoice[:sep])
	}
	digits, multiplier := m[2], m[3]
	if digits == "" {
		if multiplier != "" {
			return 0, fmt.Errorf("%w: multiplier without amount", ErrInvoice)
		}
		return 0, nil
	}

	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvoice, err)
	}

	switch multiplier {
	case "m": // millibitcoin = 100,000 sats
		amount *= 100_000
	case "u": // microbitcoin = 100 sats
		amount *= 100
	case "n": // nanobitcoin = 0.1 sats
		amount /= 10
	case "p": // picobitcoin = 0.0001 sats
		amount /= 10_000
	default:
		amount *= 100_000_000
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount overflows", ErrInvoice)
	}
	return amount, nil
}

// FormatSats formats satoshis for display
func FormatSats(sats int64) string {
	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
