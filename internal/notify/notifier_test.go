package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

type fakeSender struct {
	name   string
	titles []string
	err    error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func rule() domain.Rule {
	return domain.Rule{
		ID:       "rule-1",
		Name:     "buy the dip",
		Platform: domain.PlatformKalshi,
		MarketID: "KX-1",
	}
}

func TestNotifierFansOutToAllSenders(t *testing.T) {
	a := &fakeSender{name: "a"}
	b := &fakeSender{name: "b"}
	n := New([]Sender{a, b}, nil, slog.New(slog.DiscardHandler))

	n.TradeExecuted(context.Background(), rule(), domain.Trade{Type: domain.ActionBuy, Amount: 50, Price: 0.4})

	assert.Equal(t, []string{"Trade executed"}, a.titles)
	assert.Equal(t, []string{"Trade executed"}, b.titles)
}

func TestNotifierFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "s"}
	n := New([]Sender{s}, []string{EventTradeFailed}, slog.New(slog.DiscardHandler))

	n.TradeExecuted(context.Background(), rule(), domain.Trade{})
	n.TradeFailed(context.Background(), rule(), domain.Trade{}, "rejected")
	n.RuleDeactivated(context.Background(), rule())

	assert.Equal(t, []string{"Trade failed"}, s.titles)
}

func TestNotifierIsolatesSenderFailures(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("webhook gone")}
	healthy := &fakeSender{name: "healthy"}
	n := New([]Sender{broken, healthy}, nil, slog.New(slog.DiscardHandler))

	n.RuleDeactivated(context.Background(), rule())

	assert.Len(t, healthy.titles, 1, "one failing sender does not block the rest")
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	assert.NotPanics(t, func() {
		n.TradeExecuted(context.Background(), rule(), domain.Trade{})
	})
}
