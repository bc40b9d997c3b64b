// Package mailbox wraps one IMAP session for the duration of a run.
package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// session is the subset of IMAP commands the client issues. *client.Client
// satisfies it; tests substitute a fake to verify command ordering.
type session interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Create(name string) error
	Capability() (map[string]bool, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, dest string) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	Expunge(ch chan uint32) error
	Logout() error
}

// Client is the per-run mailbox session.
type Client struct {
	conn     session
	logger   *slog.Logger
	selected string
}

var _ ports.Mailbox = (*Client)(nil)

// Dial connects over TLS, authenticates, and bounds every command with the
// configured timeout.
func Dial(cfg config.IMAPConfig, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	c, err := client.DialTLS(cfg.Addr(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}
	c.Timeout = timeout

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login %s: %w", cfg.Username, err)
	}

	if logger != nil {
		logger.Debug("mailbox connected", "host", cfg.Host, "user", cfg.Username)
	}
	return &Client{conn: c, logger: logger}, nil
}

// Close logs out of the session.
func (c *Client) Close() error {
	return c.conn.Logout()
}

// EnsureFolder creates the folder when it does not exist yet. Servers
// answer an error for an existing folder; that is not fatal, archival will
// surface a real problem on its own.
func (c *Client) EnsureFolder(name string) {
	if err := c.conn.Create(name); err != nil && c.logger != nil {
		c.logger.Debug("create folder", "folder", name, "note", err.Error())
	}
}

// ListUnread returns the unread messages of a folder with their bodies.
// The fetch peeks, so listing never alters message flags. Per-message
// parse failures skip the message; command failures abort.
func (c *Client) ListUnread(folder string) ([]domain.Message, error) {
	if err := c.ensureSelected(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", folder, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}

	msgCh := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqset, items, msgCh)
	}()

	var messages []domain.Message
	for raw := range msgCh {
		msg, err := c.messageFromFetch(raw, folder, section)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("skipping message", "folder", folder, "uid", raw.Uid, "error", err)
			}
			continue
		}
		messages = append(messages, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}
	return messages, nil
}

// MarkRead sets \Seen on one message.
func (c *Client) MarkRead(folder string, uid uint32) error {
	if err := c.ensureSelected(folder); err != nil {
		return err
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.conn.UidStore(singleSeqSet(uid), item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("mark read uid %d: %w", uid, err)
	}
	return nil
}

// Archive moves one message into the target folder. Servers advertising
// MOVE get the native command; otherwise the ordered fallback runs: copy
// into the target, mark the original deleted, expunge. The copy must
// succeed before the original is touched, so a failure mid-sequence
// leaves the message duplicated rather than lost. UID commands on an
// already-archived (vanished) message are no-ops, so re-archiving on a
// retry run is harmless.
func (c *Client) Archive(folder string, uid uint32, target string) error {
	if err := c.ensureSelected(folder); err != nil {
		return err
	}

	caps, err := c.conn.Capability()
	if err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}

	seq := singleSeqSet(uid)
	if caps["MOVE"] {
		if err := c.conn.UidMove(seq, target); err != nil {
			return fmt.Errorf("move uid %d to %s: %w", uid, target, err)
		}
		return nil
	}

	if err := c.conn.UidCopy(seq, target); err != nil {
		return fmt.Errorf("copy uid %d to %s: %w", uid, target, err)
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.conn.UidStore(seq, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("flag deleted uid %d: %w", uid, err)
	}
	if err := c.conn.Expunge(nil); err != nil {
		return fmt.Errorf("expunge %s: %w", folder, err)
	}
	return nil
}

func (c *Client) ensureSelected(folder string) error {
	if c.selected == folder {
		return nil
	}
	if _, err := c.conn.Select(folder, false); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

func (c *Client) messageFromFetch(raw *imap.Message, folder string, section *imap.BodySectionName) (domain.Message, error) {
	msg := domain.Message{
		UID:    raw.Uid,
		Folder: folder,
		ID:     fallbackID(folder, raw.Uid),
	}

	if raw.Envelope != nil {
		msg.Subject = raw.Envelope.Subject
		msg.From = formatFrom(raw.Envelope.From)
		if raw.Envelope.MessageId != "" {
			msg.ID = raw.Envelope.MessageId
		}
	}

	body := raw.GetBody(section)
	if body == nil {
		return domain.Message{}, fmt.Errorf("no body section")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return domain.Message{}, fmt.Errorf("read body: %w", err)
	}

	msg.TextBody, msg.HTMLBody = parseBody(buf.Bytes())
	return msg, nil
}

// fallbackID builds a dedup key for messages without a Message-ID header.
// It is stable within a folder's UIDVALIDITY, which matches how long the
// message itself is addressable.
func fallbackID(folder string, uid uint32) string {
	return fmt.Sprintf("uid:%s/%d", folder, uid)
}

func formatFrom(from []*imap.Address) string {
	if len(from) == 0 {
		return ""
	}
	addr := from[0]
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
	}
	return addr.Address()
}

func singleSeqSet(uid uint32) *imap.SeqSet {
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	return seq
}
