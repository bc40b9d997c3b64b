package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
)

type fakeMailbox struct {
	unread     map[string][]domain.Message
	listErr    error
	markErr    map[uint32]error
	archiveErr map[uint32]error
	calls      []string
}

func (f *fakeMailbox) ListUnread(folder string) ([]domain.Message, error) {
	f.calls = append(f.calls, "list:"+folder)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.unread[folder], nil
}

func (f *fakeMailbox) MarkRead(folder string, uid uint32) error {
	f.calls = append(f.calls, fmt.Sprintf("mark:%s/%d", folder, uid))
	return f.markErr[uid]
}

func (f *fakeMailbox) Archive(folder string, uid uint32, target string) error {
	f.calls = append(f.calls, fmt.Sprintf("archive:%s/%d->%s", folder, uid, target))
	return f.archiveErr[uid]
}

type fakeStore struct {
	snapshot *domain.Snapshot
	loadErr  error
	flushErr error
	flushed  []*domain.Snapshot
}

func (f *fakeStore) Load() (*domain.Snapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.snapshot == nil {
		f.snapshot = domain.NewSnapshot()
	}
	return f.snapshot, nil
}

func (f *fakeStore) Flush(s *domain.Snapshot) error {
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushed = append(f.flushed, s)
	return nil
}

type fakeFetcher struct {
	articles map[string]domain.Article
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (domain.Article, error) {
	if f.err != nil {
		return domain.Article{}, f.err
	}
	return f.articles[url], nil
}

type fakeScorer struct {
	scores map[string]float64
	err    error
}

func (f *fakeScorer) Score(_ context.Context, _ []domain.Item) (map[string]float64, error) {
	return f.scores, f.err
}

type fakeRenderer struct {
	rendered []domain.Digest
	err      error
}

func (f *fakeRenderer) Render(d domain.Digest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.rendered = append(f.rendered, d)
	return "<html>digest</html>", nil
}

type fakeDispatcher struct {
	sent []string
	err  error
}

func (f *fakeDispatcher) Send(_ context.Context, subject, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

func testRules() []config.SourceRule {
	return []config.SourceRule{
		{ID: "tldr", Name: "TLDR", FromPattern: "tldr.tech", Priority: 1, Folder: "INBOX"},
		{ID: "weekly", Name: "Go Weekly", FromPattern: "golangweekly", Priority: 2, Folder: "INBOX"},
	}
}

func testMessages() []domain.Message {
	return []domain.Message{
		{ID: "<m1@x>", UID: 11, Folder: "INBOX", From: "news@tldr.tech", Subject: "Beta"},
		{ID: "<m2@x>", UID: 12, Folder: "INBOX", From: "peter@golangweekly.com", Subject: "Issue 500"},
		{ID: "<m3@x>", UID: 13, Folder: "INBOX", From: "news@tldr.tech", Subject: "Alpha"},
	}
}

func newTestPipeline(mb *fakeMailbox, st *fakeStore, deps PipelineDeps) *Pipeline {
	deps.Mailbox = mb
	deps.Store = st
	if deps.Renderer == nil {
		deps.Renderer = &fakeRenderer{}
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = &fakeDispatcher{}
	}
	if deps.Rules == nil {
		deps.Rules = testRules()
	}
	if deps.Archive == "" {
		deps.Archive = "Archive"
	}
	return NewPipeline(deps)
}

func TestRunDeliversAndCommits(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": testMessages()}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}
	dispatcher := &fakeDispatcher{}

	p := newTestPipeline(mb, st, PipelineDeps{Renderer: renderer, Dispatcher: dispatcher})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != domain.StateCommitted {
		t.Fatalf("state = %v, want committed", report.State)
	}
	if report.Listed != 3 || report.New != 3 || report.Delivered != 3 {
		t.Fatalf("counters = %d/%d/%d, want 3/3/3", report.Listed, report.New, report.Delivered)
	}
	if len(report.CommitErrors) != 0 {
		t.Fatalf("commit errors: %v", report.CommitErrors)
	}

	// Priority 1 items first, subject order within the same priority.
	if len(renderer.rendered) != 1 {
		t.Fatalf("rendered %d digests, want 1", len(renderer.rendered))
	}
	items := renderer.rendered[0].Items
	got := []string{items[0].Subject, items[1].Subject, items[2].Subject}
	want := []string{"Alpha", "Beta", "Issue 500"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	if len(dispatcher.sent) != 1 || !strings.Contains(dispatcher.sent[0], "3 new items") {
		t.Fatalf("sent = %v", dispatcher.sent)
	}

	// Per item: mark read strictly before archive.
	joined := strings.Join(mb.calls, ",")
	for _, uid := range []uint32{11, 12, 13} {
		mark := fmt.Sprintf("mark:INBOX/%d", uid)
		archive := fmt.Sprintf("archive:INBOX/%d->Archive", uid)
		if strings.Index(joined, mark) == -1 || strings.Index(joined, mark) > strings.Index(joined, archive) {
			t.Fatalf("uid %d: mark must precede archive in %v", uid, mb.calls)
		}
	}

	if len(st.flushed) != 1 {
		t.Fatalf("flushed %d times, want 1", len(st.flushed))
	}
	for _, id := range []string{"<m1@x>", "<m2@x>", "<m3@x>"} {
		if !st.flushed[0].Contains(id) {
			t.Fatalf("snapshot missing %s", id)
		}
	}
}

func TestRunSendFailureBlocksCommit(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": testMessages()}}
	st := &fakeStore{}
	dispatcher := &fakeDispatcher{err: errors.New("smtp down")}

	p := newTestPipeline(mb, st, PipelineDeps{Dispatcher: dispatcher})
	report, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when dispatch fails")
	}
	if report.State != domain.StateAborted {
		t.Fatalf("state = %v, want aborted", report.State)
	}
	for _, call := range mb.calls {
		if strings.HasPrefix(call, "mark:") || strings.HasPrefix(call, "archive:") {
			t.Fatalf("mailbox mutated after failed send: %v", mb.calls)
		}
	}
	if len(st.flushed) != 0 {
		t.Fatal("snapshot flushed after failed send")
	}
}

func TestRunSkipsProcessedMessages(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": testMessages()}}
	st := &fakeStore{}
	dispatcher := &fakeDispatcher{}

	p := newTestPipeline(mb, st, PipelineDeps{Dispatcher: dispatcher})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same unread set again, e.g. archiving failed server-side.
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.New != 0 {
		t.Fatalf("second run new = %d, want 0", report.New)
	}
	if len(dispatcher.sent) != 1 {
		t.Fatalf("sent %d digests across two runs, want 1", len(dispatcher.sent))
	}
}

func TestRunScoringFailureDegradesToStaticOrder(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": testMessages()}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}

	p := newTestPipeline(mb, st, PipelineDeps{
		Renderer: renderer,
		Scorer:   &fakeScorer{err: errors.New("quota exceeded")},
	})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != domain.StateCommitted {
		t.Fatalf("state = %v, want committed", report.State)
	}
	if renderer.rendered[0].Scored {
		t.Fatal("digest marked scored after scorer failure")
	}
	if renderer.rendered[0].Items[0].Subject != "Alpha" {
		t.Fatalf("first item = %q, want static order", renderer.rendered[0].Items[0].Subject)
	}
}

func TestRunScoreOverridesPriority(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": testMessages()}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}

	// The priority-2 newsletter gets the top score.
	p := newTestPipeline(mb, st, PipelineDeps{
		Renderer: renderer,
		Scorer: &fakeScorer{scores: map[string]float64{
			"<m1@x>": 0.3,
			"<m2@x>": 0.9,
			"<m3@x>": 0.5,
		}},
	})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	digest := renderer.rendered[0]
	if !digest.Scored {
		t.Fatal("digest not marked scored")
	}
	if digest.Items[0].Subject != "Issue 500" {
		t.Fatalf("top item = %q, want highest-scored", digest.Items[0].Subject)
	}
}

func TestRunPartialArchiveFailure(t *testing.T) {
	mb := &fakeMailbox{
		unread:     map[string][]domain.Message{"INBOX": testMessages()},
		archiveErr: map[uint32]error{12: errors.New("no such mailbox")},
	}
	st := &fakeStore{}

	p := newTestPipeline(mb, st, PipelineDeps{})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != domain.StateCommitted {
		t.Fatalf("state = %v, want committed", report.State)
	}
	if len(report.CommitErrors) != 1 {
		t.Fatalf("commit errors = %v, want exactly one", report.CommitErrors)
	}
	if report.CommitErrors[0].MessageID != "<m2@x>" || report.CommitErrors[0].Op != "archive" {
		t.Fatalf("unexpected commit error: %+v", report.CommitErrors[0])
	}

	// The failed item must not enter the snapshot; the others must.
	if len(st.flushed) != 1 {
		t.Fatalf("flushed %d times, want 1", len(st.flushed))
	}
	if st.flushed[0].Contains("<m2@x>") {
		t.Fatal("failed item recorded as processed")
	}
	if !st.flushed[0].Contains("<m1@x>") || !st.flushed[0].Contains("<m3@x>") {
		t.Fatal("committed items missing from snapshot")
	}
}

func TestRunNoNewMessages(t *testing.T) {
	mb := &fakeMailbox{}
	st := &fakeStore{}
	dispatcher := &fakeDispatcher{}

	p := newTestPipeline(mb, st, PipelineDeps{Dispatcher: dispatcher})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != domain.StateFiltered {
		t.Fatalf("state = %v, want filtered", report.State)
	}
	if len(dispatcher.sent) != 0 {
		t.Fatal("empty run sent a digest")
	}
	if len(st.flushed) != 0 {
		t.Fatal("empty run flushed state")
	}
}

func TestRunUnmatchedMessagesExcluded(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": {
		{ID: "<m1@x>", UID: 11, Folder: "INBOX", From: "news@tldr.tech", Subject: "Beta"},
		{ID: "<spam@x>", UID: 99, Folder: "INBOX", From: "noreply@unknown.example", Subject: "Spam"},
	}}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}

	p := newTestPipeline(mb, st, PipelineDeps{Renderer: renderer})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Listed != 2 || report.Matched != 1 || report.New != 1 {
		t.Fatalf("counters = %d/%d/%d, want 2/1/1", report.Listed, report.Matched, report.New)
	}
	for _, call := range mb.calls {
		if strings.Contains(call, "/99") {
			t.Fatalf("unmatched message touched: %v", mb.calls)
		}
	}
	if len(renderer.rendered[0].Items) != 1 {
		t.Fatalf("digest items = %d, want 1", len(renderer.rendered[0].Items))
	}
}

func TestRunListErrorAborts(t *testing.T) {
	mb := &fakeMailbox{listErr: errors.New("connection reset")}
	st := &fakeStore{}

	p := newTestPipeline(mb, st, PipelineDeps{})
	report, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if report.State != domain.StateAborted {
		t.Fatalf("state = %v, want aborted", report.State)
	}
	if len(st.flushed) != 0 {
		t.Fatal("aborted run flushed state")
	}
}

func TestRunArticleFetchFailureIsSoft(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": {
		{
			ID: "<m1@x>", UID: 11, Folder: "INBOX",
			From: "news@tldr.tech", Subject: "Beta",
			TextBody: "read https://example.com/post",
		},
	}}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}

	p := newTestPipeline(mb, st, PipelineDeps{
		Renderer: renderer,
		Fetcher:  &fakeFetcher{err: errors.New("503")},
	})
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State != domain.StateCommitted {
		t.Fatalf("state = %v, want committed", report.State)
	}
	item := renderer.rendered[0].Items[0]
	if item.Title != "Beta" {
		t.Fatalf("title = %q, want mail subject", item.Title)
	}
	if item.Link != "https://example.com/post" {
		t.Fatalf("link = %q", item.Link)
	}
}

func TestRunArticleTitleOverridesSubject(t *testing.T) {
	mb := &fakeMailbox{unread: map[string][]domain.Message{"INBOX": {
		{
			ID: "<m1@x>", UID: 11, Folder: "INBOX",
			From: "news@tldr.tech", Subject: "Fwd: newsletter",
			TextBody: "read https://example.com/post",
		},
	}}}
	st := &fakeStore{}
	renderer := &fakeRenderer{}

	p := newTestPipeline(mb, st, PipelineDeps{
		Renderer: renderer,
		Fetcher: &fakeFetcher{articles: map[string]domain.Article{
			"https://example.com/post": {Title: "Real Headline", Text: "Body text."},
		}},
	})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	item := renderer.rendered[0].Items[0]
	if item.Title != "Real Headline" {
		t.Fatalf("title = %q, want fetched headline", item.Title)
	}
	if item.ArticleText != "Body text." {
		t.Fatalf("article text = %q", item.ArticleText)
	}
}
