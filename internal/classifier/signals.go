package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/querylift/backend/internal/domain"
	"github.com/querylift/backend/pkg/utils"
)

var indicatorAbbreviations = map[string]bool{
	"RSI": true, "MACD": true, "EMA": true, "SMA": true, "WMA": true,
	"VWAP": true, "ATR": true, "ADX": true, "OBV": true, "CCI": true,
	"MFI": true, "ROC": true, "DMI": true, "SAR": true, "KDJ": true,
	"BB": true, "PPO": true, "TRIX": true, "DEMA": true, "TEMA": true,
}

// tickerStopList holds short all-caps words that are almost never symbols.
var tickerStopList = map[string]bool{
	"I": true, "A": true, "AN": true, "THE": true, "AND": true, "OR": true,
	"FOR": true, "TO": true, "IN": true, "ON": true, "OF": true, "AT": true,
	"BY": true, "IS": true, "IT": true, "BE": true, "AS": true, "US": true,
	"WE": true, "MY": true, "ME": true, "DO": true, "IF": true, "SO": true,
	"NO": true, "UP": true, "OK": true, "VS": true, "HOW": true, "WHAT": true,
	"WHY": true, "WHO": true, "AI": true, "ML": true, "API": true, "CEO": true,
	"CFO": true, "CTO": true, "PDF": true, "CSV": true, "JSON": true, "URL": true,
	"HTTP": true, "SQL": true, "USD": true, "EUR": true, "GBP": true, "GDP": true,
	"CPI": true, "ETF": true, "ETFS": true, "IPO": true, "EPS": true, "PE": true,
	"FAQ": true, "TL": true, "DR": true, "TLDR": true, "YTD": true, "MTD": true,
	"QTD": true, "QOQ": true, "YOY": true, "AM": true, "PM": true, "UTC": true,
	"EST": true, "PST": true, "FYI": true, "ASAP": true, "NOTE": true,
	"USA": true, "UK": true, "EU": true, "SEC": true, "FED": true, "IRS": true,
	"NYSE": true, "FOMC": true,
}

var (
	tickerPattern    = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
	indicatorPattern = regexp.MustCompile(`(?i)\b(rsi|macd|ema|sma|wma|vwap|atr|adx|obv|cci|mfi|dmi|kdj|ppo|trix|dema|tema|` +
		`parabolic\s+sar|bollinger(?:\s+bands?)?|stochastic(?:\s+oscillator)?|fibonacci(?:\s+retracements?)?|` +
		`moving\s+averages?|ichimoku(?:\s+cloud)?|relative\s+strength(?:\s+index)?|on[- ]balance\s+volume|average\s+true\s+range)\b`)

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		regexp.MustCompile(`(?i)\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`),
		regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{4}\b`),
		regexp.MustCompile(`(?i)\bQ[1-4](?:\s+(?:FY)?\d{4})?\b`),
		regexp.MustCompile(`\b(?:19|20)\d{2}\b`),
		regexp.MustCompile(`(?i)\b(?:today|yesterday|tomorrow|(?:this|last|next|past)\s+(?:week|month|quarter|year)|past\s+\d+\s+(?:days|weeks|months|years)|ytd|year[- ]to[- ]date|mtd|qtd)\b`),
	}

	docRefPattern   = regexp.MustCompile(`(?i)\b(?:documents?|docs?|pdfs?|reports?|files?|uploaded|attachments?|10-[kq]|filings?|transcripts?)\b`)
	vaultTagPattern = regexp.MustCompile(`(?i)(?:^|\s)#[a-z][\w/-]*|\[\[[^\]]+\]\]|\b(?:my\s+notes|vault|obsidian|my\s+journal)\b`)
	urlPattern      = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	realtimePattern = regexp.MustCompile(`(?i)\b(?:latest|current|currently|live|real[- ]time|today|right\s+now|breaking|news|this\s+morning|at\s+the\s+moment)\b`)

	summarizePattern = regexp.MustCompile(`(?i)\b(?:summari[sz]e|summary|summaries|tl;?dr|recap|overview\s+of|key\s+points|brief\s+me)\b`)
	comparePattern   = regexp.MustCompile(`(?i)\b(?:compare|comparison|comparing|versus|vs|difference\s+between|differences\s+between|better\s+than|pros\s+and\s+cons)\b`)
	codePattern      = regexp.MustCompile(`(?i)\b(?:code|coding|implement|implementation|script|function|python|javascript|golang|sql\s+query|write\s+a\s+program|backtest|backtesting|algorithm|snippet)\b`)

	jsonFormatPattern  = regexp.MustCompile(`(?i)\bjson\b`)
	tableFormatPattern = regexp.MustCompile(`(?i)\b(?:table|tabular|spreadsheet|csv)\b`)

	followUpPattern = regexp.MustCompile(`(?i)\b(?:its|it|they|their|them|that|this|those|these|same)\b|^\s*(?:and|what\s+about|how\s+about)\b`)
)

// IsIndicatorAbbreviation reports whether tok is a technical indicator
// abbreviation such as RSI or MACD.
func IsIndicatorAbbreviation(tok string) bool {
	return indicatorAbbreviations[strings.ToUpper(tok)]
}

type signals struct {
	tickers    []string
	indicators []string
	dates      []string
	docRef     bool
	vaultTag   bool
	url        bool
	realtime   bool
	taskType   domain.TaskType
	format     domain.OutputFormat
	complexity domain.Complexity
}

func (s signals) strong() bool {
	return s.docRef || s.vaultTag || s.url || s.realtime ||
		len(s.tickers) > 0 || len(s.indicators) > 0 ||
		s.taskType != domain.TaskQA
}

func (s signals) sources() []domain.Source {
	var out []domain.Source
	if s.docRef {
		out = append(out, domain.SourceRAG)
	}
	if s.vaultTag {
		out = append(out, domain.SourcePersonalNotes)
	}
	if s.realtime || s.url {
		out = append(out, domain.SourceWeb)
	}
	if len(out) == 0 {
		out = append(out, domain.SourceRAG)
	}
	return out
}

func (s signals) entities() domain.Entities {
	return domain.Entities{
		Tickers:    domain.SortedUnique(s.tickers),
		Indicators: domain.SortedUnique(s.indicators),
		Dates:      domain.SortedUnique(s.dates),
	}
}

func extractSignals(query string) signals {
	s := signals{
		indicators: extractIndicators(query),
		dates:      extractDates(query),
		docRef:     docRefPattern.MatchString(query),
		vaultTag:   vaultTagPattern.MatchString(query),
		url:        urlPattern.MatchString(query),
		realtime:   realtimePattern.MatchString(query),
		taskType:   detectTask(query),
		format:     detectFormat(query),
	}
	s.tickers = extractTickers(urlPattern.ReplaceAllString(query, " "))
	s.complexity = estimateComplexity(query, s.taskType)
	return s
}

func extractTickers(query string) []string {
	var out []string
	for _, loc := range tickerPattern.FindAllStringIndex(query, -1) {
		tok := query[loc[0]:loc[1]]
		if tickerStopList[tok] || indicatorAbbreviations[tok] {
			continue
		}
		if len(tok) <= 2 && joinedAbbreviation(query, loc[0], loc[1]) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// joinedAbbreviation reports whether query[start:end] is one part of a term
// like S&P, P/E or M&A.
func joinedAbbreviation(query string, start, end int) bool {
	joiner := func(b byte) bool { return b == '&' || b == '/' }
	return (start > 0 && joiner(query[start-1])) || (end < len(query) && joiner(query[end]))
}

func extractIndicators(query string) []string {
	var out []string
	for _, m := range indicatorPattern.FindAllString(query, -1) {
		if IsIndicatorAbbreviation(m) {
			out = append(out, strings.ToUpper(m))
			continue
		}
		out = append(out, strings.ToLower(strings.Join(strings.Fields(m), " ")))
	}
	return out
}

// extractDates keeps the longest match when patterns overlap, so "Q1 2024"
// is not also reported as "2024".
func extractDates(query string) []string {
	type span struct{ start, end int }
	var spans []span
	for _, p := range datePatterns {
		for _, loc := range p.FindAllStringIndex(query, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var kept []span
	var out []string
	for _, sp := range spans {
		covered := false
		for _, k := range kept {
			if sp.start >= k.start && sp.end <= k.end {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		kept = append(kept, sp)
		out = append(out, strings.TrimSpace(query[sp.start:sp.end]))
	}
	return out
}

// detectTask picks the task with the most keyword hits. Ties go to compare,
// then code, then summarize.
func detectTask(query string) domain.TaskType {
	best := domain.TaskQA
	bestHits := 0
	for _, c := range []struct {
		task    domain.TaskType
		pattern *regexp.Regexp
	}{
		{domain.TaskCompare, comparePattern},
		{domain.TaskCode, codePattern},
		{domain.TaskSummarize, summarizePattern},
	} {
		if hits := len(c.pattern.FindAllStringIndex(query, -1)); hits > bestHits {
			best, bestHits = c.task, hits
		}
	}
	return best
}

func detectFormat(query string) domain.OutputFormat {
	switch {
	case jsonFormatPattern.MatchString(query):
		return domain.FormatJSON
	case tableFormatPattern.MatchString(query):
		return domain.FormatTable
	default:
		return domain.FormatMarkdown
	}
}

func estimateComplexity(query string, task domain.TaskType) domain.Complexity {
	words := utils.WordCount(query)
	c := domain.ComplexityComplex
	switch {
	case words <= 8:
		c = domain.ComplexitySimple
	case words <= 20:
		c = domain.ComplexityMedium
	}
	if task == domain.TaskCompare && c == domain.ComplexitySimple {
		c = domain.ComplexityMedium
	}
	return c
}

func isFollowUp(query string) bool {
	return utils.WordCount(query) <= 8 && followUpPattern.MatchString(query)
}
