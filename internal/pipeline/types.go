// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// FetchStatus records the outcome of fetching a single page.
type FetchStatus string

// Fetch status values persisted on crawled pages.
const (
	FetchSuccess FetchStatus = "success"
	FetchFailed  FetchStatus = "failed"
	FetchSkipped FetchStatus = "skipped"
)

// Category is the page type assigned by the classifier.
type Category string

// Supported page categories.
const (
	CategoryCollection Category = "collection"
	CategoryProduct    Category = "product"
	CategoryBlog       Category = "blog"
	CategoryPolicy     Category = "policy"
	CategoryHomepage   Category = "homepage"
	CategoryOther      Category = "other"
)

// ClassifierSource identifies which classifier pass produced the category.
type ClassifierSource string

// Classifier sources.
const (
	SourceRule  ClassifierSource = "rule"
	SourceModel ClassifierSource = "model"
)

// ContentSignals are structural hints extracted during the crawl and used
// by the rule classifier.
type ContentSignals struct {
	HasCartButton  bool `json:"has_cart_button"`
	HasPagination  bool `json:"has_pagination"`
	HasProductGrid bool `json:"has_product_grid"`
	HasArticleTag  bool `json:"has_article_tag"`
	HasPrice       bool `json:"has_price"`
}

// CrawlConfig captures per-project crawl knobs requested by the client.
type CrawlConfig struct {
	IncludePatterns []string      `json:"include_patterns"`
	ExcludePatterns []string      `json:"exclude_patterns"`
	MaxPages        int           `json:"max_pages"`
	Concurrency     int           `json:"concurrency"`
	Delay           time.Duration `json:"delay"`
	RespectRobots   bool          `json:"respect_robots"`
}

// Project is the root aggregate: one onboarded client site.
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	SiteURL     string         `json:"site_url"`
	Crawl       CrawlConfig    `json:"crawl"`
	Priority    []PriorityLink `json:"priority_links"`
	Phases      PhaseStatus    `json:"phase_status"`
	Active      bool           `json:"active"`
	NeedsReview bool           `json:"needs_review"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PriorityLink is a business-selected internal link that generated drafts for
// the project must carry. Anchor defaults from the URL path when empty.
type PriorityLink struct {
	URL    string `json:"url"`
	Anchor string `json:"anchor,omitempty"`
}

// RelatedPage links a page to another page in the same project by label overlap.
type RelatedPage struct {
	PageID       string   `json:"page_id"`
	URL          string   `json:"url"`
	SharedLabels []string `json:"shared_labels"`
	Overlap      int      `json:"overlap"`
}

// CrawledPage is persisted for each URL the crawl engine processed.
// NormalizedURL is unique within a project.
type CrawledPage struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	URL             string           `json:"url"`
	NormalizedURL   string           `json:"normalized_url"`
	Status          FetchStatus      `json:"status"`
	HTTPStatus      int              `json:"http_status"`
	Title           string           `json:"title"`
	H1              string           `json:"h1"`
	MetaDescription string           `json:"meta_description"`
	BodyText        string           `json:"body_text"`
	WordCount       int              `json:"word_count"`
	Links           []string         `json:"links"`
	Signals         ContentSignals   `json:"signals"`
	Category        Category         `json:"category"`
	Confidence      int              `json:"confidence"`
	ClassSource     ClassifierSource `json:"class_source"`
	ClassReason     string           `json:"class_reason,omitempty"`
	Labels          []string         `json:"labels"`
	Related         []RelatedPage    `json:"related"`
	ContentHash     string           `json:"content_hash"`
	SnapshotURI     string           `json:"snapshot_uri,omitempty"`
	FetchError      string           `json:"fetch_error,omitempty"`
	FetchedAt       time.Time        `json:"fetched_at"`
}

// Taxonomy is the project-scoped vocabulary of topical labels.
// Regenerated, not merged, on major recrawls.
type Taxonomy struct {
	ProjectID   string    `json:"project_id"`
	Labels      []string  `json:"labels"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Contains reports whether label is part of the taxonomy.
func (t Taxonomy) Contains(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// QuestionSource identifies how an enrichment question was discovered.
type QuestionSource string

// Question sources.
const (
	SourceDirect   QuestionSource = "direct-result"
	SourceFallback QuestionSource = "related-fallback"
	SourceFanOut   QuestionSource = "fan-out"
)

// Intent buckets a question by what the searcher is trying to do.
type Intent string

// Intent categories used to pick a content angle.
const (
	IntentBuying     Intent = "buying"
	IntentUsage      Intent = "usage"
	IntentComparison Intent = "comparison"
	IntentCare       Intent = "care"
	IntentOther      Intent = "other"
)

// Question is one retained enrichment question.
type Question struct {
	Text   string         `json:"text"`
	Source QuestionSource `json:"source"`
	Intent Intent         `json:"intent"`
}

// PagePAA is the question-enrichment record for one page.
// One per page per enrichment cycle; overwritten on regeneration.
type PagePAA struct {
	PageID     string     `json:"page_id"`
	Keyword    string     `json:"keyword"`
	Locale     string     `json:"locale"`
	Questions  []Question `json:"questions"`
	RawResults []string   `json:"raw_results"`
	EnrichedAt time.Time  `json:"enriched_at"`
}

// ContentBrief is the output of the research phase.
type ContentBrief struct {
	PageID            string    `json:"page_id"`
	Angle             string    `json:"angle"`
	PriorityQuestions []string  `json:"priority_questions"`
	Benefits          []string  `json:"benefits"`
	Differentiators   []string  `json:"differentiators"`
	Exclusions        []string  `json:"exclusions"`
	CreatedAt         time.Time `json:"created_at"`
}

// GeneratedContent holds the writing-phase output plus QA results.
type GeneratedContent struct {
	PageID            string        `json:"page_id"`
	H1                string        `json:"h1"`
	TitleTag          string        `json:"title_tag"`
	MetaDescription   string        `json:"meta_description"`
	TopDescription    string        `json:"top_description"`
	BottomDescription string        `json:"bottom_description"`
	WordCount         int           `json:"word_count"`
	Status            ContentStatus `json:"status"`
	HardBlockers      []string      `json:"hard_blockers"`
	SoftIssues        []string      `json:"soft_issues"`
	FixHistory        []string      `json:"fix_history"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Frequency is how often a recurring crawl fires.
type Frequency string

// Supported schedule frequencies.
const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// CrawlSchedule is the recurring-crawl configuration, one per project.
type CrawlSchedule struct {
	ProjectID string    `json:"project_id"`
	Enabled   bool      `json:"enabled"`
	Frequency Frequency `json:"frequency"`
	// Day is the weekday (0=Sunday) for weekly or day-of-month for monthly.
	Day       int       `json:"day"`
	TimeOfDay string    `json:"time_of_day"` // "15:04"
	Timezone  string    `json:"timezone"`
	Email     string    `json:"email,omitempty"`
	Webhook   string    `json:"webhook,omitempty"`
	NextRunAt time.Time `json:"next_run_at"`
}

// RunStatus is the lifecycle state of one scheduled or manual crawl run.
type RunStatus string

// Run status values persisted in crawl history.
const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// ChangeSummary is the diff between two consecutive crawls of a project.
type ChangeSummary struct {
	New       int  `json:"new"`
	Removed   int  `json:"removed"`
	Changed   int  `json:"changed"`
	Unchanged int  `json:"unchanged"`
	Notified  bool `json:"notified"`
}

// Significant reports whether the delta warrants a notification:
// at least 5 new pages, or at least 10% of previously known pages changed.
func (c ChangeSummary) Significant() bool {
	if c.New >= 5 {
		return true
	}
	prior := c.Changed + c.Unchanged + c.Removed
	if prior == 0 {
		return false
	}
	return c.Changed*10 >= prior
}

// CrawlRun is one append-only crawl-history record.
type CrawlRun struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	Status       RunStatus     `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	PagesCrawled int           `json:"pages_crawled"`
	PagesFailed  int           `json:"pages_failed"`
	Changes      ChangeSummary `json:"changes"`
	ErrorText    string        `json:"error_text,omitempty"`
}
