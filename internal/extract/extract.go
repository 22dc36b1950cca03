// Package extract turns a free-form message into a partial rule patch using
// deterministic pattern rules. It never calls out to a model or the network.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"alertline/internal/domain"
)

var (
	quotedRe = regexp.MustCompile(`'([^']*)'`)
	emailRe  = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)
	domainRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}`)
	daysRe   = regexp.MustCompile(`(?i)\b(\d{1,3})\s*d[ií]as?\b`)
	timeRe   = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	levelRe  = regexp.MustCompile(`riesgo\s+(bajo|medio|alto|cr[ií]tico)`)
	scoreRe  = regexp.MustCompile(`(?:score|puntuaci[oó]n)\s*(?:>=|≥|de al menos|mayor o igual (?:a|que))\s*(\d{1,3})`)
)

var riskLevels = map[string]string{
	"bajo": "low", "medio": "medium", "alto": "high", "critico": "critical", "crítico": "critical",
}

// message is the input shared by every rule: the raw text and its
// lower-cased form.
type message struct {
	raw   string
	lower string
}

// A rule reads the message and fills the fields it owns in the patch. Only
// expiryDays and riskThreshold share a field (the condition bag) and they
// set disjoint keys of it.
type rule func(m message, patch *domain.DraftFields)

var rules = []rule{
	ruleName,
	ruleType,
	expiryDays,
	riskThreshold,
	emailChannel,
	scopeDomains,
	scheduleFrequency,
	cooldownOff,
}

// Extract returns the patch for one message. A message that matches no rule
// yields an empty patch.
func Extract(text string) domain.DraftFields {
	m := message{raw: text, lower: strings.ToLower(text)}
	var patch domain.DraftFields
	for _, r := range rules {
		r(m, &patch)
	}
	return patch
}

// ruleName takes the first single-quoted substring, even when the message
// contains several.
func ruleName(m message, patch *domain.DraftFields) {
	match := quotedRe.FindStringSubmatch(m.raw)
	if match == nil {
		return
	}
	if name := strings.TrimSpace(match[1]); name != "" {
		patch.RuleName = name
	}
}

func ruleType(m message, patch *domain.DraftFields) {
	switch {
	case strings.Contains(m.lower, "caduc") || strings.Contains(m.lower, "expir"):
		patch.RuleType = domain.RuleTypeExpiry
		patch.Severity = "medium"
	case strings.Contains(m.lower, "riesg") || strings.Contains(m.lower, "risk"):
		patch.RuleType = domain.RuleTypeRisk
	}
}

func expiryDays(m message, patch *domain.DraftFields) {
	match := daysRe.FindStringSubmatch(m.raw)
	if match == nil {
		return
	}
	days, err := strconv.Atoi(match[1])
	if err != nil {
		return
	}
	patch.Condition = &domain.ConditionFields{DaysBeforeExpiry: &days}
}

func riskThreshold(m message, patch *domain.DraftFields) {
	level := ""
	if match := levelRe.FindStringSubmatch(m.lower); match != nil {
		level = riskLevels[match[1]]
	}
	var score *int
	if match := scoreRe.FindStringSubmatch(m.lower); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			score = &n
		}
	}
	if level == "" && score == nil {
		return
	}
	if patch.Condition == nil {
		patch.Condition = &domain.ConditionFields{}
	}
	patch.Condition.RiskLevelGTE = level
	patch.Condition.RiskScoreGTE = score
}

func emailChannel(m message, patch *domain.DraftFields) {
	addr := emailRe.FindString(m.raw)
	if addr == "" {
		return
	}
	patch.Channels = []domain.Channel{{Kind: domain.ChannelEmail, To: addr}}
}

// scopeDomains collects every domain name outside of email addresses,
// lower-cased, de-duplicated and sorted.
func scopeDomains(m message, patch *domain.DraftFields) {
	text := emailRe.ReplaceAllString(m.raw, " ")
	matches := domainRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return
	}
	seen := map[string]bool{}
	var names []string
	for _, d := range matches {
		d = strings.ToLower(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		names = append(names, d)
	}
	sort.Strings(names)
	patch.Scope = &domain.Scope{TargetType: domain.TargetDomains, Domains: names}
}

func scheduleFrequency(m message, patch *domain.DraftFields) {
	var freq string
	switch {
	case containsAny(m.lower, "diar", "cada dia", "cada día", "todos los días", "todos los dias", "daily"):
		freq = domain.FrequencyDaily
	case containsAny(m.lower, "seman", "weekly"):
		freq = domain.FrequencyWeekly
	case containsAny(m.lower, "cada hora", "horari", "hourly"):
		freq = domain.FrequencyHourly
	default:
		return
	}
	s := &domain.Schedule{Frequency: freq}
	if match := timeRe.FindStringSubmatch(m.raw); match != nil {
		hour, _ := strconv.Atoi(match[1])
		at := fmt.Sprintf("%02d:%s", hour, match[2])
		s.AtTime = &at
	}
	patch.Schedule = s
}

func cooldownOff(m message, patch *domain.DraftFields) {
	if containsAny(m.lower, "no quiero cooldown", "sin cooldown") {
		zero := 0
		patch.Cooldown = &domain.Cooldown{Seconds: &zero}
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
