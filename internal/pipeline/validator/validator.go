// Package validator implements the Content Validator (C2): a pure function
// that classifies a single generated string as valid or invalid, and
// decides retryability when it is not. Ported from the reference
// structural/bounds/quality checks, kept as plain Go functions with no
// external dependency — this is in-memory, non-suspending classification
// logic with no I/O, storage, or transport surface for a library to serve.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// ErrorCode enumerates every reason a section's content can fail validation.
type ErrorCode string

const (
	ErrEmptyContent      ErrorCode = "empty_content"
	ErrNearEmptyContent  ErrorCode = "near_empty_content"
	ErrContentTooShort   ErrorCode = "content_too_short"
	ErrContentTooLong    ErrorCode = "content_too_long"
	ErrContainsTags      ErrorCode = "contains_tags"
	ErrContainsHeaders   ErrorCode = "contains_headers"
	ErrContainsFormat    ErrorCode = "contains_formatting"
	ErrContainsMarkup    ErrorCode = "contains_markup"
	ErrStructuralMod     ErrorCode = "structural_modification"
	ErrRepetitiveContent ErrorCode = "repetitive_content"
	ErrBoilerplateOnly   ErrorCode = "boilerplate_only"
)

// FailureType is the classification assigned to an invalid result, used by
// the generator's retry loop to decide whether to retry.
type FailureType string

const (
	FailureNone                FailureType = ""
	FailureBoundsViolation     FailureType = "bounds_violation"
	FailureStructuralViolation FailureType = "structural_violation"
	FailureQualityFailure      FailureType = "quality_failure"
)

var defaultHTMLPattern = regexp.MustCompile(`(?i)<[a-zA-Z][^>]*>|</[a-zA-Z]+>`)
var defaultHeaderPattern = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)
var defaultBoldItalicPattern = regexp.MustCompile(`\*{1,3}[^*]+\*{1,3}|_{1,3}[^_]+_{1,3}`)
var defaultLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
var defaultCodeBlockPattern = regexp.MustCompile("(?s)```.*?```|`[^`]+`")
var defaultHRPattern = regexp.MustCompile(`(?m)^[-*_]{3,}$`)
var defaultTablePattern = regexp.MustCompile(`(?m)^\|.*\|$`)
var defaultNumberingPattern = regexp.MustCompile(`(?m)^(?:\d+\.|\d+\)|\(\d+\)|[a-zA-Z]\.|\([a-zA-Z]\))\s+`)
var defaultWordPattern = regexp.MustCompile(`\b\w+\b`)

var defaultBoilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)lorem ipsum`),
	regexp.MustCompile(`(?i)placeholder`),
	regexp.MustCompile(`(?i)\btodo\b`),
	regexp.MustCompile(`(?i)\[insert[^\]]*\]`),
}

// StructuralConfig toggles which structural checks run, plus custom
// caller-supplied forbidden patterns.
type StructuralConfig struct {
	RejectHTMLTags           bool
	RejectMarkdownHeaders    bool
	RejectMarkdownFormatting bool
	RejectMarkdownLinks      bool
	RejectCodeBlocks         bool
	RejectHorizontalRules    bool
	RejectTables             bool
	RejectSectionNumbering   bool
	CustomForbiddenPatterns  []string
}

// DefaultStructuralConfig rejects every structural category.
func DefaultStructuralConfig() StructuralConfig {
	return StructuralConfig{
		RejectHTMLTags:           true,
		RejectMarkdownHeaders:    true,
		RejectMarkdownFormatting: true,
		RejectMarkdownLinks:      true,
		RejectCodeBlocks:         true,
		RejectHorizontalRules:    true,
		RejectTables:             true,
		RejectSectionNumbering:   true,
	}
}

// QualityConfig tunes the quality heuristic thresholds.
type QualityConfig struct {
	MaxRepetitionRatio    float64
	MinUniqueWords        int
	MinMeaningfulLength   int
	BoilerplatePatterns   []string
}

// DefaultQualityConfig mirrors the reference defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MaxRepetitionRatio:  0.3,
		MinUniqueWords:      5,
		MinMeaningfulLength: 10,
	}
}

// Constraints bundles every tunable the validator needs, set once at
// component-construction time from read-only configuration.
type Constraints struct {
	MinLength  int
	MaxLength  int
	Structural StructuralConfig
	Quality    QualityConfig
}

// StructuralResult is the outcome of the structural sub-check.
type StructuralResult struct {
	IsValid          bool
	DetectedTags     []string
	DetectedHeaders  []string
	DetectedFormat   []string
	DetectedMarkup   []string
	ErrorCodes       []ErrorCode
	ErrorMessage     string
}

// BoundsResult is the outcome of the bounds sub-check.
type BoundsResult struct {
	IsValid       bool
	ContentLength int
	IsEmpty       bool
	IsNearEmpty   bool
	IsTooShort    bool
	IsTooLong     bool
	ErrorCodes    []ErrorCode
	ErrorMessage  string
}

// QualityResult is the outcome of the quality sub-check.
type QualityResult struct {
	IsValid               bool
	UniqueWordCount       int
	TotalWordCount        int
	RepetitionRatio       float64
	IsRepetitive          bool
	IsBoilerplate         bool
	DetectedBoilerplate   []string
	ErrorCodes            []ErrorCode
	ErrorMessage          string
}

// Result is the combined validation outcome returned by Validate.
type Result struct {
	IsValid          bool
	ValidatedContent string
	ContentHash      string
	Structural       StructuralResult
	Bounds           BoundsResult
	Quality          QualityResult
	FailureType       FailureType
	AllErrorCodes     []ErrorCode
	AllViolations     []string
	RejectionReason   string
	IsRetryable       bool
}

// Validate runs bounds, structural, then quality checks in that fixed order
// and combines them into one Result. Empty content short-circuits the
// remaining checks.
func Validate(content string, c Constraints) Result {
	bounds := validateBounds(content, c)
	if bounds.IsEmpty {
		return Result{
			IsValid:    false,
			Structural: StructuralResult{IsValid: true},
			Bounds:     bounds,
			Quality: QualityResult{
				IsValid:    false,
				ErrorCodes: []ErrorCode{ErrEmptyContent},
			},
			FailureType:     FailureBoundsViolation,
			AllErrorCodes:   []ErrorCode{ErrEmptyContent},
			AllViolations:   []string{"content is empty"},
			RejectionReason: "content is empty",
			IsRetryable:     true,
		}
	}

	structural := validateStructural(content, c.Structural)
	quality := validateQuality(content, c.Quality)

	allCodes := dedupCodes(append(append(append([]ErrorCode{}, bounds.ErrorCodes...), structural.ErrorCodes...), quality.ErrorCodes...))

	var violations []string
	if bounds.ErrorMessage != "" {
		violations = append(violations, bounds.ErrorMessage)
	}
	if structural.ErrorMessage != "" {
		violations = append(violations, structural.ErrorMessage)
	}
	if quality.ErrorMessage != "" {
		violations = append(violations, quality.ErrorMessage)
	}

	isValid := bounds.IsValid && structural.IsValid && quality.IsValid

	var failureType FailureType
	isRetryable := false
	if !isValid {
		switch {
		case !structural.IsValid:
			failureType = FailureStructuralViolation
			isRetryable = false
		case !bounds.IsValid:
			failureType = FailureBoundsViolation
			isRetryable = true
		case !quality.IsValid:
			failureType = FailureQualityFailure
			isRetryable = false
		}
	}

	var validatedContent, contentHash string
	if isValid {
		validatedContent = strings.TrimSpace(content)
		sum := sha256.Sum256([]byte(validatedContent))
		contentHash = hex.EncodeToString(sum[:])
	}

	return Result{
		IsValid:          isValid,
		ValidatedContent: validatedContent,
		ContentHash:      contentHash,
		Structural:       structural,
		Bounds:           bounds,
		Quality:          quality,
		FailureType:      failureType,
		AllErrorCodes:    allCodes,
		AllViolations:    violations,
		RejectionReason:  strings.Join(violations, "; "),
		IsRetryable:      isRetryable,
	}
}

func validateBounds(content string, c Constraints) BoundsResult {
	stripped := strings.TrimSpace(content)
	length := len([]rune(stripped))

	minMeaningful := c.Quality.MinMeaningfulLength
	if minMeaningful == 0 {
		minMeaningful = 10
	}

	isEmpty := length == 0
	isNearEmpty := length > 0 && length < minMeaningful
	isTooShort := length < c.MinLength && !isEmpty
	isTooLong := c.MaxLength > 0 && length > c.MaxLength

	var codes []ErrorCode
	var msgs []string
	switch {
	case isEmpty:
		codes = append(codes, ErrEmptyContent)
		msgs = append(msgs, "content is empty")
	case isNearEmpty:
		codes = append(codes, ErrNearEmptyContent)
	}
	if isTooShort {
		codes = append(codes, ErrContentTooShort)
	}
	if isTooLong {
		codes = append(codes, ErrContentTooLong)
		msgs = append(msgs, "content too long")
	}

	return BoundsResult{
		IsValid:       len(codes) == 0,
		ContentLength: length,
		IsEmpty:       isEmpty,
		IsNearEmpty:   isNearEmpty,
		IsTooShort:    isTooShort,
		IsTooLong:     isTooLong,
		ErrorCodes:    codes,
		ErrorMessage:  strings.Join(msgs, "; "),
	}
}

func validateStructural(content string, cfg StructuralConfig) StructuralResult {
	if content == "" {
		return StructuralResult{IsValid: true}
	}

	var detectedTags, detectedHeaders, detectedFormat, detectedMarkup []string
	var codes []ErrorCode

	if cfg.RejectHTMLTags {
		if m := defaultHTMLPattern.FindAllString(content, -1); len(m) > 0 {
			detectedTags = append(detectedTags, limit(m, 5)...)
			codes = append(codes, ErrContainsTags)
		}
	}
	if cfg.RejectMarkdownHeaders {
		if m := defaultHeaderPattern.FindAllString(content, -1); len(m) > 0 {
			detectedHeaders = append(detectedHeaders, limit(m, 5)...)
			codes = append(codes, ErrContainsHeaders)
		}
	}
	if cfg.RejectMarkdownFormatting {
		if m := defaultBoldItalicPattern.FindAllString(content, -1); len(m) > 0 {
			detectedFormat = append(detectedFormat, limit(m, 5)...)
			codes = append(codes, ErrContainsFormat)
		}
	}
	if cfg.RejectMarkdownLinks {
		if m := defaultLinkPattern.FindAllString(content, -1); len(m) > 0 {
			detectedMarkup = append(detectedMarkup, limit(m, 3)...)
			codes = append(codes, ErrContainsMarkup)
		}
	}
	if cfg.RejectCodeBlocks {
		if m := defaultCodeBlockPattern.FindAllString(content, -1); len(m) > 0 {
			for range limit(m, 3) {
				detectedMarkup = append(detectedMarkup, "code_block")
			}
			codes = append(codes, ErrContainsMarkup)
		}
	}
	if cfg.RejectHorizontalRules {
		if defaultHRPattern.MatchString(content) {
			detectedMarkup = append(detectedMarkup, "horizontal_rule")
			codes = append(codes, ErrStructuralMod)
		}
	}
	if cfg.RejectTables {
		if m := defaultTablePattern.FindAllString(content, -1); len(m) > 0 {
			for range limit(m, 3) {
				detectedMarkup = append(detectedMarkup, "table_row")
			}
			codes = append(codes, ErrStructuralMod)
		}
	}
	if cfg.RejectSectionNumbering {
		if m := defaultNumberingPattern.FindAllString(content, -1); len(m) > 0 {
			detectedHeaders = append(detectedHeaders, limit(m, 5)...)
			codes = append(codes, ErrContainsHeaders)
		}
	}
	for _, raw := range cfg.CustomForbiddenPatterns {
		re, err := regexp.Compile("(?im)" + raw)
		if err != nil {
			continue
		}
		if re.MatchString(content) {
			detectedMarkup = append(detectedMarkup, "custom_pattern:"+raw)
			codes = append(codes, ErrStructuralMod)
		}
	}

	isValid := len(codes) == 0
	var msgs []string
	if !isValid {
		if len(detectedTags) > 0 {
			msgs = append(msgs, "HTML tags detected")
		}
		if len(detectedHeaders) > 0 {
			msgs = append(msgs, "headers/numbering detected")
		}
		if len(detectedFormat) > 0 {
			msgs = append(msgs, "formatting detected")
		}
		if len(detectedMarkup) > 0 {
			msgs = append(msgs, "structural markup detected")
		}
	}

	return StructuralResult{
		IsValid:         isValid,
		DetectedTags:    detectedTags,
		DetectedHeaders: detectedHeaders,
		DetectedFormat:  detectedFormat,
		DetectedMarkup:  detectedMarkup,
		ErrorCodes:      dedupCodes(codes),
		ErrorMessage:    strings.Join(msgs, "; "),
	}
}

func validateQuality(content string, cfg QualityConfig) QualityResult {
	if strings.TrimSpace(content) == "" {
		return QualityResult{
			IsValid:      false,
			ErrorCodes:   []ErrorCode{ErrEmptyContent},
			ErrorMessage: "cannot validate quality of empty content",
		}
	}

	maxRatio := cfg.MaxRepetitionRatio
	if maxRatio == 0 {
		maxRatio = 0.3
	}
	minUnique := cfg.MinUniqueWords
	if minUnique == 0 {
		minUnique = 5
	}

	words := defaultWordPattern.FindAllString(strings.ToLower(content), -1)
	total := len(words)
	counts := make(map[string]int, total)
	unique := make(map[string]struct{}, total)
	for _, w := range words {
		counts[w]++
		unique[w] = struct{}{}
	}
	uniqueCount := len(unique)

	mostCommon := 0
	for _, n := range counts {
		if n > mostCommon {
			mostCommon = n
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(mostCommon) / float64(total)
	}

	isRepetitive := total >= 10 && ratio > maxRatio
	hasFewUnique := uniqueCount < minUnique

	patterns := defaultBoilerplatePatterns
	if len(cfg.BoilerplatePatterns) > 0 {
		patterns = nil
		for _, raw := range cfg.BoilerplatePatterns {
			if re, err := regexp.Compile("(?im)" + raw); err == nil {
				patterns = append(patterns, re)
			}
		}
	}
	var detectedBoilerplate []string
	trimmed := strings.TrimSpace(content)
	for _, p := range patterns {
		if p.MatchString(trimmed) {
			detectedBoilerplate = append(detectedBoilerplate, p.String())
		}
	}
	isBoilerplate := len(detectedBoilerplate) > 0

	var codes []ErrorCode
	var msgs []string
	if isRepetitive {
		codes = append(codes, ErrRepetitiveContent)
		msgs = append(msgs, "content is repetitive")
	}
	if isBoilerplate {
		codes = append(codes, ErrBoilerplateOnly)
		msgs = append(msgs, "boilerplate detected")
	}
	if hasFewUnique && total >= 5 {
		codes = append(codes, ErrNearEmptyContent)
		msgs = append(msgs, "too few unique words")
	}

	return QualityResult{
		IsValid:             len(codes) == 0,
		UniqueWordCount:     uniqueCount,
		TotalWordCount:      total,
		RepetitionRatio:     ratio,
		IsRepetitive:        isRepetitive,
		IsBoilerplate:       isBoilerplate,
		DetectedBoilerplate: detectedBoilerplate,
		ErrorCodes:          codes,
		ErrorMessage:        strings.Join(msgs, "; "),
	}
}

func dedupCodes(codes []ErrorCode) []ErrorCode {
	seen := make(map[ErrorCode]struct{}, len(codes))
	out := make([]ErrorCode, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func limit(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
