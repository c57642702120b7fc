// Package optimizer picks the best covered-call strike for one expiry.
//
// Candidates run through a fixed sequence of gates (liquidity, quote
// sanity, premium, probability, delta) and survivors are ranked by
//
//	score = yield - LambdaResistance*|K - R|/spot - LambdaRisk*delta
//
// where R is the nearest resistance above spot.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/samber/lo"

	"github.com/contactkeval/covered-call/internal/data"
	"github.com/contactkeval/covered-call/internal/logger"
	"github.com/contactkeval/covered-call/internal/pricing"
	"github.com/contactkeval/covered-call/internal/resistance"
	"github.com/contactkeval/covered-call/internal/surface"
)

// ErrInvalidScoreExpression is returned when ScoreExpression does not parse
// or does not evaluate to a number.
var ErrInvalidScoreExpression = errors.New("invalid score expression")

// Rejection reasons, reported through Constraints.OnReject.
const (
	RejectOpenInterest = "open_interest"
	RejectZombieBid    = "zombie_bid"
	RejectWideSpread   = "wide_spread"
	RejectPremium      = "min_premium"
	RejectNoProb       = "no_probability"
	RejectLCB          = "lcb_below_target"
	RejectTouch        = "touch_cap"
	RejectDelta        = "max_delta"
)

// Constraints are the gate thresholds and score weights. Every value is
// used as given; defaults belong to the configuration layer.
type Constraints struct {
	TargetMin        float64 // minimum LCB of P(OTM)
	TargetMax        float64 // upper edge of the target band, informational
	MinOpenInterest  float64
	MinBid           float64 // bids below this are zombie quotes
	MaxSpreadPct     float64 // reject when (ask-bid)/bid exceeds this
	SpreadThreshold  float64 // below this relative spread fill at mid
	CrossingFactor   float64 // fraction of the spread given up when crossing
	Commission       float64 // dollars per contract
	MinNetPremium    float64 // dollars per contract after commission
	TouchCap         float64 // <= 0 disables the touch gate
	MaxDelta         float64
	RiskFreeRate     float64
	LambdaResistance float64
	LambdaRisk       float64

	// ScoreExpression optionally replaces the default score. Variables:
	// yield, dist_res, delta, p_otm, p_lcb, p_touch, lambda_res, lambda_risk.
	ScoreExpression string

	// OnReject, when set, is called once per rejected candidate.
	OnReject func(reason string) `json:"-"`
}

// StrikeProbability is the barrier engine output for one strike.
type StrikeProbability struct {
	POTM   float64
	LCB    float64
	PTouch float64
}

// Recommendation is one scored strike with every input to its score.
type Recommendation struct {
	Strike             float64   `json:"strike"`
	Expiration         time.Time `json:"expiration"`
	DTE                int       `json:"dte"`
	Side               string    `json:"side"`
	Bid                float64   `json:"bid"`
	Ask                float64   `json:"ask"`
	Mid                float64   `json:"mid"`
	EffectivePrice     float64   `json:"effective_price"`
	NetPremium         float64   `json:"net_premium"`
	OpenInterest       float64   `json:"open_interest"`
	POTM               float64   `json:"p_otm"`
	PLCB               float64   `json:"p_lcb"`
	PTouch             float64   `json:"p_touch"`
	InTargetBand       bool      `json:"in_target_band"`
	ImpliedVol         float64   `json:"iv"`
	IVSource           string    `json:"iv_source"`
	Delta              float64   `json:"delta"`
	Resistance         float64   `json:"resistance"`
	ResistanceLabel    string    `json:"resistance_label"`
	ResistanceStrength float64   `json:"resistance_strength"`
	DistResistance     float64   `json:"dist_resistance"`
	Yield              float64   `json:"yield"`
	Score              float64   `json:"score"`
	Spot               float64   `json:"spot"`
}

// Select returns the highest scoring call above spot, or nil when no
// candidate passes every gate. surf may be nil, in which case each quote's
// own implied volatility is used for delta.
func Select(
	chain []data.OptionQuote,
	probs map[float64]StrikeProbability,
	levels []resistance.Level,
	c Constraints,
	surf *surface.Params,
) (*Recommendation, error) {

	expr, err := compileScore(c.ScoreExpression)
	if err != nil {
		return nil, err
	}

	reject := func(reason string, q data.OptionQuote) bool {
		logger.Tracef("event=candidate_rejected strike=%.2f dte=%d reason=%s", q.Strike, q.DTE, reason)
		if c.OnReject != nil {
			c.OnReject(reason)
		}
		return false
	}

	calls := lo.Filter(chain, func(q data.OptionQuote, _ int) bool {
		return q.IsCall() && q.UnderlyingPrice > 0 && q.Strike > q.UnderlyingPrice
	})

	var survivors []Recommendation
	for _, q := range calls {
		rec, ok, err := evaluate(q, probs, levels, c, surf, expr, reject)
		if err != nil {
			return nil, err
		}
		if ok {
			survivors = append(survivors, rec)
		}
	}

	if len(survivors) == 0 {
		return nil, nil
	}

	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].Score > survivors[j].Score })
	best := survivors[0]
	logger.Debugf(
		"event=candidate_selected strike=%.2f dte=%d score=%.4f survivors=%d",
		best.Strike, best.DTE, best.Score, len(survivors),
	)
	return &best, nil
}

// evaluate runs one quote through the gates in order.
func evaluate(
	q data.OptionQuote,
	probs map[float64]StrikeProbability,
	levels []resistance.Level,
	c Constraints,
	surf *surface.Params,
	expr *govaluate.EvaluableExpression,
	reject func(string, data.OptionQuote) bool,
) (Recommendation, bool, error) {

	spot := q.UnderlyingPrice

	// 1. liquidity
	if q.OpenInterest < c.MinOpenInterest {
		return Recommendation{}, reject(RejectOpenInterest, q), nil
	}

	// 2. quote sanity
	if q.Bid < c.MinBid {
		return Recommendation{}, reject(RejectZombieBid, q), nil
	}
	if (q.Ask-q.Bid)/q.Bid > c.MaxSpreadPct {
		return Recommendation{}, reject(RejectWideSpread, q), nil
	}

	// 3. effective fill
	mid := (q.Bid + q.Ask) / 2
	spread := q.Ask - q.Bid
	rel := 0.0
	if mid > 0 {
		rel = spread / mid
	}
	effective := mid
	if rel >= c.SpreadThreshold {
		effective = q.Bid + c.CrossingFactor*spread
	}

	// 4. net premium per contract
	net := effective*100 - c.Commission
	if net < c.MinNetPremium {
		return Recommendation{}, reject(RejectPremium, q), nil
	}

	// 5. annualized yield on the underlying
	days := math.Max(float64(q.DTE), 1)
	yield := (net / 100) / spot * (365 / days)

	// 6. probability gates
	p, ok := probs[q.Strike]
	if !ok {
		return Recommendation{}, reject(RejectNoProb, q), nil
	}
	if p.LCB < c.TargetMin {
		return Recommendation{}, reject(RejectLCB, q), nil
	}
	if c.TouchCap > 0 && p.PTouch > c.TouchCap {
		return Recommendation{}, reject(RejectTouch, q), nil
	}

	// 7. delta from the fitted surface, else the quoted iv
	years := days / 365
	iv, ivSource := q.ImpliedVol, "market"
	if surf != nil {
		iv, ivSource = surface.Query(q.Strike, years, spot, *surf), "surface"
	}
	delta := pricing.CallDelta(spot, q.Strike, years, c.RiskFreeRate, iv)
	if delta > c.MaxDelta {
		return Recommendation{}, reject(RejectDelta, q), nil
	}

	// 8. score
	res := resistance.NearestAbove(levels, spot)
	dist := math.Abs(q.Strike - res.Level)

	score := yield - c.LambdaResistance*dist/spot - c.LambdaRisk*delta
	if expr != nil {
		var err error
		score, err = evalScore(expr, map[string]interface{}{
			"yield":       yield,
			"dist_res":    dist / spot,
			"delta":       delta,
			"p_otm":       p.POTM,
			"p_lcb":       p.LCB,
			"p_touch":     p.PTouch,
			"lambda_res":  c.LambdaResistance,
			"lambda_risk": c.LambdaRisk,
		})
		if err != nil {
			return Recommendation{}, false, err
		}
	}

	return Recommendation{
		Strike:             q.Strike,
		Expiration:         q.Expiration,
		DTE:                q.DTE,
		Side:               "call",
		Bid:                q.Bid,
		Ask:                q.Ask,
		Mid:                mid,
		EffectivePrice:     effective,
		NetPremium:         net,
		OpenInterest:       q.OpenInterest,
		POTM:               p.POTM,
		PLCB:               p.LCB,
		PTouch:             p.PTouch,
		InTargetBand:       p.POTM >= c.TargetMin && (c.TargetMax <= 0 || p.POTM <= c.TargetMax),
		ImpliedVol:         iv,
		IVSource:           ivSource,
		Delta:              delta,
		Resistance:         res.Level,
		ResistanceLabel:    res.Label,
		ResistanceStrength: res.Strength,
		DistResistance:     dist,
		Yield:              yield,
		Score:              score,
		Spot:               spot,
	}, true, nil
}

// CompileScore validates a score expression without evaluating it.
func CompileScore(expression string) error {
	_, err := compileScore(expression)
	return err
}

func compileScore(expression string) (*govaluate.EvaluableExpression, error) {
	if expression == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidScoreExpression, expression, err)
	}
	return expr, nil
}

func evalScore(expr *govaluate.EvaluableExpression, vars map[string]interface{}) (float64, error) {
	out, err := expr.Evaluate(vars)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScoreExpression, err)
	}
	f, ok := out.(float64)
	if !ok || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: result %v is not a number", ErrInvalidScoreExpression, out)
	}
	return f, nil
}
