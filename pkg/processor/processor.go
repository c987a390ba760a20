package processor

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/xhad/brief/internal/models"
)

var (
	// ErrContentTooShort flags input that needs elaboration to reach the word target.
	ErrContentTooShort = errors.New("content too short")
	// ErrBudgetExceeded flags input that was truncated to the input budget.
	ErrBudgetExceeded = errors.New("input budget exceeded, text truncated")
	ErrNoContent      = errors.New("no extractable content")
)

const (
	noiseSelector = "script, style, noscript, template, nav, header, footer, aside"
	blockSelector = "p, h1, h2, h3, h4, h5, h6, li"
)

// Containers are tried in order; the first one present wins.
var containerSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"body",
}

type ProcessorConfig struct {
	MinBlockChars   int
	MinContentChars int
	MaxInputChars   int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MinBlockChars == 0 {
		config.MinBlockChars = 50
	}
	if config.MinContentChars == 0 {
		config.MinContentChars = 50
	}
	if config.MaxInputChars == 0 {
		config.MaxInputChars = 12000
	}

	return Processor{
		config: config,
	}
}

// ExtractDocument turns a fetched document into plain text. Budgeting is
// left to Fit.
func (p Processor) ExtractDocument(doc *models.Document) (models.ExtractedText, error) {
	text := p.Extract(doc.RawMarkup)
	if text == "" {
		text = p.readabilityText(doc)
	}
	if text == "" {
		return models.ExtractedText{SourceRef: doc.SourceURL}, ErrNoContent
	}
	return p.Normalize(text, doc.SourceURL), nil
}

// Normalize wraps pasted or extracted text with whitespace collapsed.
func (p Processor) Normalize(text, sourceRef string) models.ExtractedText {
	text = cleanText(text)
	return models.ExtractedText{
		Text:      text,
		CharCount: utf8.RuneCountInString(text),
		SourceRef: sourceRef,
	}
}

// Fit applies the budget's input limit and reports whether the text was
// truncated.
func (p Processor) Fit(extracted models.ExtractedText, budget models.Budget) (models.ExtractedText, bool) {
	text, truncated := Trim(extracted.Text, budget.MaxInputChars)
	extracted.Text = text
	extracted.CharCount = utf8.RuneCountInString(text)
	return extracted, truncated
}

// TooShort reports whether the text is below the viable minimum or has fewer
// words than the summary is asked to contain.
func (p Processor) TooShort(text string, budget models.Budget) bool {
	if utf8.RuneCountInString(text) < p.config.MinContentChars {
		return true
	}
	return budget.MaxOutputWords > 0 && len(strings.Fields(text)) < budget.MaxOutputWords
}

// Budget returns the limits for one summarize request.
func (p Processor) Budget(wordTarget int) models.Budget {
	return models.Budget{
		MaxInputChars:  p.config.MaxInputChars,
		MaxOutputWords: wordTarget,
	}
}

// Extract returns the visible, boilerplate-filtered text of markup. The
// result depends only on the input.
func (p Processor) Extract(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}

	description := pageDescription(doc)

	doc.Find(noiseSelector).Remove()
	container := mainContainer(doc)

	var blocks []string
	if description != "" {
		blocks = append(blocks, description)
	}

	container.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are already covered by their ancestor's text.
		if s.ParentsFiltered(blockSelector).Length() > 0 {
			return
		}
		text := cleanText(s.Text())
		if utf8.RuneCountInString(text) > p.config.MinBlockChars {
			blocks = append(blocks, text)
		}
	})

	if len(blocks) == 0 || (description != "" && len(blocks) == 1) {
		return ""
	}

	return strings.Join(blocks, " ")
}

func (p Processor) readabilityText(doc *models.Document) string {
	pageURL, err := url.Parse(doc.SourceURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(doc.RawMarkup), pageURL)
	if err != nil {
		return ""
	}
	return cleanText(article.TextContent)
}

func mainContainer(doc *goquery.Document) *goquery.Selection {
	for _, selector := range containerSelectors {
		if selected := doc.Find(selector).First(); selected.Length() > 0 {
			return selected
		}
	}
	return doc.Selection
}

func pageDescription(doc *goquery.Document) string {
	for _, selector := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if content = cleanText(content); content != "" {
				return content
			}
		}
	}
	return ""
}

func cleanText(text string) string {
	// Replace runs of whitespace with single spaces
	return strings.Join(strings.Fields(text), " ")
}

// Trim returns the first maxChars characters of text and whether anything
// was cut. It never looks for sentence boundaries.
func Trim(text string, maxChars int) (string, bool) {
	if maxChars < 0 {
		maxChars = 0
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}

	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i], true
		}
		count++
	}
	return text, false
}
