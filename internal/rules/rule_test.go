package rules

import (
	"context"
	"testing"

	"github.com/titan-mmo/titan/internal/titanerr"
)

type tradeFixture struct {
	fromSeason, toSeason string
	soloSelfFound        bool
}

func sameSeason(ctx context.Context, t tradeFixture) error {
	if t.fromSeason != t.toSeason {
		return Violation("rules: trade participants are in different seasons (%s vs %s)", t.fromSeason, t.toSeason)
	}
	return nil
}

func soloSelfFoundBlocked(ctx context.Context, t tradeFixture) error {
	if t.soloSelfFound {
		return Violation("rules: solo self-found characters cannot trade")
	}
	return nil
}

func TestChainPassesWhenEveryRuleHolds(t *testing.T) {
	trade := tradeFixture{fromSeason: "s1", toSeason: "s1"}
	if err := Chain(context.Background(), trade, sameSeason, soloSelfFoundBlocked); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestChainStopsAtFirstViolation(t *testing.T) {
	trade := tradeFixture{fromSeason: "s1", toSeason: "s2", soloSelfFound: true}
	err := Chain(context.Background(), trade, sameSeason, soloSelfFoundBlocked)
	if !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty violation message")
	}
}

func TestChainReportsSecondRuleWhenFirstPasses(t *testing.T) {
	trade := tradeFixture{fromSeason: "s1", toSeason: "s1", soloSelfFound: true}
	err := Chain(context.Background(), trade, sameSeason, soloSelfFoundBlocked)
	if !titanerr.Is(err, titanerr.InvalidInput) {
		t.Fatalf("expected InvalidInput from the second rule, got %v", err)
	}
}

func TestChainWithNoRulesAlwaysPasses(t *testing.T) {
	if err := Chain(context.Background(), tradeFixture{}); err != nil {
		t.Fatalf("expected an empty rule chain to pass, got %v", err)
	}
}
