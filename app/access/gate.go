// Package access gates pages and API routes by authentication and tier.
package access

import (
	"errors"
	"guilded/m/v2/app/auth"
	"guilded/m/v2/app/config"
	"guilded/m/v2/app/lib"
	"guilded/m/v2/app/models"
	"guilded/m/v2/app/util"
	"net/url"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const (
	LoginPath   = "/login"
	UpgradePath = "/upgrade"
)

type Outcome string

const (
	OutcomeAllow             Outcome = "allow"
	OutcomeLoginRedirect     Outcome = "login-redirect"
	OutcomeUpgradeRedirect   Outcome = "upgrade-redirect"
	OutcomeUnauthorized      Outcome = "unauthorized"
	OutcomeEntitlementDenied Outcome = "entitlement-denied"
)

// Rule protects every path under Prefix. RequiredTier is ignored for public rules.
type Rule struct {
	Prefix       string
	RequiredTier models.Tier
	Public       bool
}

// Rules are matched by longest prefix. Paths matching no rule are public.
var Rules = sortRules([]Rule{
	{Prefix: "/dashboard", RequiredTier: lib.LowestTier},
	{Prefix: "/dashboard/ai-assistant", RequiredTier: lib.AIAssistantTier},
	{Prefix: "/dashboard/arbitration", RequiredTier: models.TierMaster},
	{Prefix: "/api/ai", RequiredTier: lib.LowestTier},
	{Prefix: "/api/billing", RequiredTier: lib.LowestTier},
	{Prefix: "/api/consultations", RequiredTier: lib.LowestTier},
	{Prefix: "/api/lessons", RequiredTier: lib.LowestTier},
	{Prefix: "/api/me", RequiredTier: lib.LowestTier},
	{Prefix: "/api/webhooks", Public: true},
})

func sortRules(rules []Rule) []Rule {
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Prefix) > len(rules[j].Prefix)
	})
	return rules
}

// MatchRule returns the most specific rule covering path. A prefix only matches on a segment boundary.
func MatchRule(path string) (Rule, bool) {
	for _, rule := range Rules {
		if path == rule.Prefix || strings.HasPrefix(path, rule.Prefix+"/") {
			return rule, true
		}
	}
	return Rule{}, false
}

// Authorize reports whether user may access a resource requiring the tier. A nil user never may.
func Authorize(user *models.User, requiredTier models.Tier) bool {
	return user != nil && lib.AccessAllowed(user.Tier, requiredTier)
}

// Decide maps a caller to an outcome. API callers get explicit denials, pages get redirects.
func Decide(user *models.User, requiredTier models.Tier, isAPI bool) Outcome {
	switch {
	case user == nil && isAPI:
		return OutcomeUnauthorized
	case user == nil:
		return OutcomeLoginRedirect
	case Authorize(user, requiredTier):
		return OutcomeAllow
	case isAPI:
		return OutcomeEntitlementDenied
	default:
		return OutcomeUpgradeRedirect
	}
}

func IsAPI(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// Deny writes the response for a non-allow outcome.
func Deny(ctx *fasthttp.RequestCtx, outcome Outcome, requiredTier models.Tier) {
	switch outcome {
	case OutcomeUnauthorized:
		util.WriteJSON(ctx, fasthttp.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	case OutcomeEntitlementDenied:
		util.WriteJSON(ctx, fasthttp.StatusForbidden, map[string]string{
			"error":        "Your plan does not include this feature",
			"requiredTier": string(requiredTier),
		})
	case OutcomeLoginRedirect:
		ctx.Redirect(LoginPath+"?next="+url.QueryEscape(string(ctx.Path())), fasthttp.StatusFound)
	case OutcomeUpgradeRedirect:
		ctx.Redirect(UpgradePath+"?tier="+url.QueryEscape(string(requiredTier)), fasthttp.StatusFound)
	}
}

// Middleware applies the path rules before next runs.
func Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		rule, ok := MatchRule(path)
		if !ok || rule.Public {
			next(ctx)
			return
		}

		user, err := auth.CurrentUser(ctx)
		if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
			log.WithError(err).Errorf("access: failed to resolve user for %s", path)
			util.WriteJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": "Something went wrong, please try again later."})
			return
		}

		outcome := Decide(user, rule.RequiredTier, IsAPI(path))
		if outcome != OutcomeAllow {
			config.CONFIG.DataDogClient.Incr("access.denied", []string{"outcome:" + string(outcome)}, 1)
			Deny(ctx, outcome, rule.RequiredTier)
			return
		}
		next(ctx)
	}
}
