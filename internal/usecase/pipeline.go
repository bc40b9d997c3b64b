package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/extract"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/rank"
	"NewsDigest/internal/source"
)

// PipelineDeps wires all driven adapters into the run orchestration.
// Scorer may be nil: scoring is then skipped and ranking degrades to
// static priorities.
type PipelineDeps struct {
	Mailbox    ports.Mailbox
	Store      ports.StateStore
	Fetcher    ports.ArticleFetcher
	Scorer     ports.Scorer
	Renderer   ports.Renderer
	Dispatcher ports.Dispatcher
	Rules      []config.SourceRule
	Archive    string
	Timeouts   config.TimeoutsConfig
	Logger     *slog.Logger
	Now        func() time.Time
}

// Pipeline executes one ingestion run as a linear state machine:
// start, listed, filtered, enriched, ranked, rendered, sent, committed.
// Nothing on the server or in the store is mutated before the sent state.
type Pipeline struct {
	mailbox    ports.Mailbox
	store      ports.StateStore
	fetcher    ports.ArticleFetcher
	scorer     ports.Scorer
	renderer   ports.Renderer
	dispatcher ports.Dispatcher
	rules      []config.SourceRule
	archive    string
	timeouts   config.TimeoutsConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		mailbox:    deps.Mailbox,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		scorer:     deps.Scorer,
		renderer:   deps.Renderer,
		dispatcher: deps.Dispatcher,
		rules:      deps.Rules,
		archive:    deps.Archive,
		timeouts:   deps.Timeouts,
		logger:     logger,
		now:        now,
	}
}

// Run executes one batch. The returned error is non-nil only for fatal,
// fully-retryable failures: in that case no message was delivered and no
// mailbox or store state changed. Once the digest was sent the run is a
// success; commit failures after that are carried in the report.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID: uuid.NewString(),
		State: domain.StateStart,
	}
	log := p.logger.With("run_id", report.RunID)

	snapshot, err := p.store.Load()
	if err != nil {
		report.State = domain.StateAborted
		return report, fmt.Errorf("load state: %w", err)
	}
	log.Debug("state loaded", "processed", snapshot.Len())

	messages, err := p.listCandidates()
	if err != nil {
		report.State = domain.StateAborted
		return report, err
	}
	report.State = domain.StateListed
	report.Listed = len(messages)

	items, msgByID := p.filter(messages, snapshot, &report, log)
	report.State = domain.StateFiltered
	report.New = len(items)
	if len(items) == 0 {
		log.Info("no new messages to process", "listed", report.Listed)
		return report, nil
	}

	p.enrich(ctx, items, msgByID, log)
	report.State = domain.StateEnriched

	scored := p.score(ctx, items, log)
	rank.Order(items)
	report.State = domain.StateRanked

	digest := domain.Digest{
		RunID:       report.RunID,
		GeneratedAt: p.now(),
		Scored:      scored,
		Items:       items,
	}
	html, err := p.renderer.Render(digest)
	if err != nil {
		report.State = domain.StateAborted
		return report, fmt.Errorf("render digest: %w", err)
	}
	report.State = domain.StateRendered

	subject := digestSubject(len(items))
	sendCtx, cancel := context.WithTimeout(ctx, p.timeouts.SendDuration())
	err = p.dispatcher.Send(sendCtx, subject, html)
	cancel()
	if err != nil {
		report.State = domain.StateAborted
		return report, fmt.Errorf("dispatch digest: %w", err)
	}
	report.State = domain.StateSent
	report.Delivered = len(items)
	log.Info("digest sent", "items", len(items), "subject", subject)

	p.commit(items, snapshot, &report, log)
	report.State = domain.StateCommitted

	if len(report.CommitErrors) > 0 {
		log.Warn("run committed with item failures", "failed", len(report.CommitErrors))
	}
	return report, nil
}

// listCandidates walks the distinct folders of the enabled rules in
// declaration order.
func (p *Pipeline) listCandidates() ([]domain.Message, error) {
	var messages []domain.Message
	seen := map[string]bool{}
	for _, rule := range p.rules {
		if !rule.IsEnabled() || seen[rule.Folder] {
			continue
		}
		seen[rule.Folder] = true

		batch, err := p.mailbox.ListUnread(rule.Folder)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", rule.Folder, err)
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

// filter tags messages with their source rule and drops unmatched,
// already-processed, and run-local duplicate identifiers. Unmatched
// messages are excluded silently; that is not an error.
func (p *Pipeline) filter(messages []domain.Message, snapshot *domain.Snapshot,
	report *domain.RunReport, log *slog.Logger) ([]domain.Item, map[string]domain.Message) {

	var items []domain.Item
	msgByID := map[string]domain.Message{}
	inRun := map[string]bool{}

	for _, msg := range messages {
		rule := source.Match(p.rules, msg.From)
		if rule == nil {
			log.Debug("no source rule matches", "from", msg.From, "subject", msg.Subject)
			continue
		}
		report.Matched++

		if snapshot.Contains(msg.ID) {
			log.Debug("already processed", "message_id", msg.ID)
			continue
		}
		if inRun[msg.ID] {
			continue
		}
		inRun[msg.ID] = true

		items = append(items, domain.Item{
			MessageID:  msg.ID,
			UID:        msg.UID,
			Folder:     msg.Folder,
			SourceID:   rule.ID,
			SourceName: rule.Name,
			Priority:   rule.Priority,
			Title:      msg.Subject,
			Subject:    msg.Subject,
		})
		msgByID[msg.ID] = msg
	}
	return items, msgByID
}

// enrich fills previews, links, and article content. Fetch failures are
// soft: the item keeps its mail-derived preview and subject title.
func (p *Pipeline) enrich(ctx context.Context, items []domain.Item,
	msgByID map[string]domain.Message, log *slog.Logger) {

	for i := range items {
		msg := msgByID[items[i].MessageID]
		items[i].Preview, items[i].Link = extract.Extract(msg)

		if items[i].Link == "" || p.fetcher == nil {
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, p.timeouts.FetchDuration())
		article, err := p.fetcher.Fetch(fetchCtx, items[i].Link)
		cancel()
		if err != nil {
			log.Warn("article fetch failed", "link", items[i].Link, "error", err)
			continue
		}
		if article.Title != "" {
			items[i].Title = article.Title
		}
		if article.Text != "" {
			items[i].ArticleText = article.Text
		}
	}
}

// score runs the optional external scoring pass. Every failure degrades
// to neutral scores; scoring can never fail the run.
func (p *Pipeline) score(ctx context.Context, items []domain.Item, log *slog.Logger) bool {
	if p.scorer == nil {
		return false
	}

	scoreCtx, cancel := context.WithTimeout(ctx, p.timeouts.ScoreDuration())
	scores, err := p.scorer.Score(scoreCtx, items)
	cancel()
	if err != nil {
		log.Warn("external scoring unavailable, using static priorities", "error", err)
		return false
	}
	if len(scores) == 0 {
		return false
	}
	rank.Apply(items, scores)
	return true
}

// commitOp is one step of the per-item commit sequence.
type commitOp struct {
	name string
	run  func() error
}

// commitPlan returns the ordered operations for one delivered item:
// mark read, archive, record. Record must come last so an identifier
// never enters the snapshot unless its message was archived.
func (p *Pipeline) commitPlan(item domain.Item, snapshot *domain.Snapshot, runID string) []commitOp {
	return []commitOp{
		{name: "mark_read", run: func() error {
			return p.mailbox.MarkRead(item.Folder, item.UID)
		}},
		{name: "archive", run: func() error {
			return p.mailbox.Archive(item.Folder, item.UID, p.archive)
		}},
		{name: "record", run: func() error {
			snapshot.Record(item.MessageID, runID, p.now())
			return nil
		}},
	}
}

// commit executes the plan for every delivered item, then flushes the
// snapshot once. A failing step skips the rest of that item's plan and
// moves on; already-committed items are never rolled back.
func (p *Pipeline) commit(items []domain.Item, snapshot *domain.Snapshot,
	report *domain.RunReport, log *slog.Logger) {

	for _, item := range items {
		for _, op := range p.commitPlan(item, snapshot, report.RunID) {
			if err := op.run(); err != nil {
				log.Warn("commit step failed", "op", op.name,
					"message_id", item.MessageID, "error", err)
				report.CommitErrors = append(report.CommitErrors, domain.CommitError{
					MessageID: item.MessageID,
					Op:        op.name,
					Err:       err,
				})
				break
			}
		}
	}

	if err := p.store.Flush(snapshot); err != nil {
		log.Error("state flush failed", "error", err)
		report.CommitErrors = append(report.CommitErrors, domain.CommitError{
			Op:  "flush",
			Err: err,
		})
	}
}

func digestSubject(count int) string {
	if count == 1 {
		return "Newsletter Digest - 1 new item"
	}
	return fmt.Sprintf("Newsletter Digest - %d new items", count)
}
