// Package classifier derives advisory signals from inbound text: auto-dead
// detection from a keyword list plus an external scoring service, and the
// unconditional wrong-number and litigator-report phrase checks.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"gitlab.com/hearthline/api/telephony-engine/internal/config"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
	"gitlab.com/hearthline/api/telephony-engine/internal/observer"
	"gitlab.com/hearthline/api/telephony-engine/pkg/logger"
	"go.uber.org/zap"
)

// autoDeadWords end a conversation when they appear as a whole word in the
// first response.
var autoDeadWords = map[string]struct{}{
	"no": {}, "nope": {}, "lose": {}, "sold": {}, "off": {}, "dont": {},
	"stop": {}, "sorry": {}, "remove": {}, "not": {}, "alone": {},
	"fuck": {}, "spam": {}, "never": {}, "quit": {}, "end": {},
	"unsubscribe": {}, "removeme": {}, "fuckyou": {}, "spammer": {}, "unsub": {},
}

// wrongNumberPhrases flip the wrong-number flag on any inbound text.
var wrongNumberPhrases = []string{"wrong number", "wrong person"}

// litigatorPhrases enqueue a report for manual review on any inbound text.
var litigatorPhrases = []string{
	"report", "reported", "reporting", "scam", "scamming", "illegal",
	"violation", "DNC registry", "Do Not Contact List",
	"National Do Not Contact", "National DNC",
}

var (
	nonWordRe       = regexp.MustCompile(`[^\w\d\s]+`)
	litigatorRegexs = compilePhraseRegexs(litigatorPhrases)
)

func compilePhraseRegexs(phrases []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		res = append(res, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(p)+`\b`))
	}
	return res
}

// Result carries the advisory signals for one inbound text. Score is nil
// when the external service was unavailable; callers treat that the same as
// no signal.
type Result struct {
	AutoDead        bool
	AutoDeadSource  string // "keyword" or "score"
	Score           *float64
	WrongNumber     bool
	LitigatorReport bool
}

// ScoringClient is the external content-scoring collaborator.
type ScoringClient interface {
	Score(ctx context.Context, message string) (float64, error)
}

// Classifier evaluates inbound message bodies.
type Classifier struct {
	scoring ScoringClient
	cfg     config.ClassifierConfig
}

// New constructs a Classifier. scoring may be nil; only the keyword signal
// then applies.
func New(scoring ScoringClient, cfg config.ClassifierConfig) *Classifier {
	return &Classifier{scoring: scoring, cfg: cfg}
}

// Classify evaluates one inbound body. The wrong-number and litigator checks
// always run; auto-dead detection runs only when checkAutoDead is set (the
// prospect has not yet responded and auto-termination is enabled). Errors
// from the scoring service are swallowed: the signal is advisory and must
// never block message processing.
func (c *Classifier) Classify(ctx context.Context, body string, checkAutoDead bool) Result {
	res := Result{}
	if body == "" || body == model.NoTextSentinel {
		return res
	}

	lower := strings.ToLower(body)
	for _, phrase := range wrongNumberPhrases {
		if strings.Contains(lower, phrase) {
			res.WrongNumber = true
			observer.IncClassifierResult("wrong_number")
			break
		}
	}

	for _, re := range litigatorRegexs {
		if re.MatchString(body) {
			res.LitigatorReport = true
			observer.IncClassifierResult("litigator_report")
			break
		}
	}

	if !checkAutoDead {
		return res
	}

	if hasAutoDeadWord(body) {
		res.AutoDead = true
		res.AutoDeadSource = "keyword"
		observer.IncClassifierResult("auto_dead_keyword")
	}

	if c.scoring != nil && c.cfg.Enabled {
		score, err := c.scoring.Score(ctx, body)
		if err != nil {
			logger.FromContext(ctx).Debug("content scoring unavailable", zap.Error(err))
		} else {
			res.Score = &score
			if score >= c.cfg.ScoreThreshold && !res.AutoDead {
				res.AutoDead = true
				res.AutoDeadSource = "score"
				observer.IncClassifierResult("auto_dead_score")
			}
		}
	}

	return res
}

// hasAutoDeadWord strips punctuation and checks each whole word against the
// termination list, case-insensitive.
func hasAutoDeadWord(body string) bool {
	cleaned := nonWordRe.ReplaceAllString(body, "")
	for _, word := range strings.Fields(strings.ToLower(cleaned)) {
		if _, ok := autoDeadWords[word]; ok {
			return true
		}
	}
	return false
}
